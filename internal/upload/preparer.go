package upload

import (
	"context"
	"math/big"
	"strings"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"petitions/internal/failure"
	"petitions/internal/models"
)

// Preparation steps, in order
const (
	StepValidate  = "validate"
	StepImage     = "image"
	StepDocuments = "documents"
	StepMetadata  = "metadata"
	StepFinalize  = "finalize"

	totalSteps = 4
)

// Progress reports a pipeline step as it starts
type Progress struct {
	Step    int    `json:"step"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// ProgressFunc receives Progress updates. It may be nil.
type ProgressFunc func(Progress)

// Prepared is a fully pinned draft, ready for createPetition
type Prepared struct {
	MetadataURI string
	MetadataCID string
	ImageURI    string
	Documents   []DocumentMeta
}

// Args returns the createPetition call arguments in ABI order
func (p *Prepared) Args(d *Draft) []any {
	code, _ := models.CategoryCode(d.Category)
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return []any{
		p.MetadataURI,
		code,
		tags,
		big.NewInt(d.StartDate.Unix()),
		big.NewInt(d.EndDate.Unix()),
		new(big.Int).SetUint64(d.TargetSignatures),
	}
}

// DocumentMeta describes a pinned document inside the metadata document
type DocumentMeta struct {
	Name       string `json:"name"`
	Size       int    `json:"size"`
	Type       string `json:"type"`
	URL        string `json:"url"`
	UploadedAt int64  `json:"uploadedAt"`
}

type attribute struct {
	TraitType   string `json:"trait_type"`
	Value       any    `json:"value"`
	DisplayType string `json:"display_type,omitempty"`
}

type petitionData struct {
	RichTextContent  string         `json:"richTextContent"`
	Category         string         `json:"category"`
	Tags             []string       `json:"tags"`
	Creator          string         `json:"creator,omitempty"`
	TargetSignatures uint64         `json:"targetSignatures"`
	StartDate        int64          `json:"startDate"`
	EndDate          int64          `json:"endDate"`
	Documents        []DocumentMeta `json:"documents"`
	Version          int            `json:"version"`
	CreatedAt        int64          `json:"createdAt"`
}

// MetadataDocument is the JSON pinned as the petition's metadata
type MetadataDocument struct {
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Image        string       `json:"image"`
	Attributes   []attribute  `json:"attributes"`
	PetitionData petitionData `json:"petitionData"`
}

// Preparer runs the upload pipeline that has to finish before a petition
// can be created on chain
type Preparer struct {
	uploader Uploader
	clock    clock.Clock
	logger   *zap.Logger
}

// NewPreparer creates a Preparer. clk may be nil.
func NewPreparer(uploader Uploader, clk clock.Clock, logger *zap.Logger) *Preparer {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Preparer{uploader: uploader, clock: clk, logger: logger.Named("preparer")}
}

// Prepare validates d and pins its image, documents and metadata. Every
// failure is a *failure.PreparationError naming the step.
func (p *Preparer) Prepare(ctx context.Context, d *Draft, progress ProgressFunc) (*Prepared, error) {
	report := func(step int, msg string) {
		if progress != nil {
			progress(Progress{Step: step, Total: totalSteps, Message: msg})
		}
	}
	fail := func(step string, err error) (*Prepared, error) {
		p.logger.Warn("Preparation failed", zap.String("step", step), zap.Error(err))
		return nil, &failure.PreparationError{Step: step, Err: err}
	}

	if err := d.Validate(); err != nil {
		return fail(StepValidate, err)
	}

	out := &Prepared{}

	report(1, "Uploading cover image...")
	if d.Image != nil {
		res, err := p.uploader.UploadFile(ctx, *d.Image)
		if err != nil {
			return fail(StepImage, err)
		}
		out.ImageURI = "ipfs://" + res.CID
	}

	report(2, "Uploading documents...")
	docs, err := p.uploadDocuments(ctx, d.Documents)
	if err != nil {
		return fail(StepDocuments, err)
	}
	out.Documents = docs

	report(3, "Creating metadata...")
	doc := p.buildMetadata(d, out)

	report(4, "Finalizing upload...")
	res, err := p.uploader.UploadMetadata(ctx, doc)
	if err != nil {
		return fail(StepMetadata, err)
	}
	out.MetadataCID = res.CID
	out.MetadataURI = "ipfs://" + res.CID

	p.logger.Info("Draft prepared",
		zap.String("metadata_uri", out.MetadataURI),
		zap.Int("documents", len(docs)))
	return out, nil
}

// uploadDocuments pins documents in parallel, keeping input order
func (p *Preparer) uploadDocuments(ctx context.Context, files []File) ([]DocumentMeta, error) {
	docs := make([]DocumentMeta, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			res, err := p.uploader.UploadFile(gctx, f)
			if err != nil {
				return err
			}
			url := res.URL
			if !strings.HasPrefix(url, "ipfs://") {
				url = "ipfs://" + res.CID
			}
			docs[i] = DocumentMeta{
				Name:       f.Name,
				Size:       len(f.Data),
				Type:       contentType(f),
				URL:        url,
				UploadedAt: p.clock.Now().UnixMilli(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (p *Preparer) buildMetadata(d *Draft, out *Prepared) *MetadataDocument {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return &MetadataDocument{
		Name:        strings.TrimSpace(d.Title),
		Description: strings.TrimSpace(d.Description),
		Image:       out.ImageURI,
		Attributes: []attribute{
			{TraitType: "Category", Value: string(d.Category)},
			{TraitType: "Target Signatures", Value: d.TargetSignatures, DisplayType: "number"},
		},
		PetitionData: petitionData{
			RichTextContent:  d.RichText,
			Category:         string(d.Category),
			Tags:             tags,
			Creator:          d.Creator,
			TargetSignatures: d.TargetSignatures,
			StartDate:        d.StartDate.Unix(),
			EndDate:          d.EndDate.Unix(),
			Documents:        out.Documents,
			Version:          1,
			CreatedAt:        p.clock.Now().UnixMilli(),
		},
	}
}
