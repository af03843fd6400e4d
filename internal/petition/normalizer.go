package petition

import (
	"context"
	"math/big"
	"time"

	"petitions/internal/failure"
	"petitions/internal/metrics"
	"petitions/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// MetadataResolver resolves a metadata pointer into its document
type MetadataResolver interface {
	Resolve(ctx context.Context, uri string) (*models.Metadata, error)
}

// Options carries per-call inputs that don't come from the chain
type Options struct {
	HasSigned bool
	Now       time.Time
}

// Normalizer turns raw contract records into display-ready petitions
type Normalizer struct {
	resolver MetadataResolver
}

// NewNormalizer creates a Normalizer
func NewNormalizer(resolver MetadataResolver) *Normalizer {
	return &Normalizer{resolver: resolver}
}

// Normalize decodes raw and joins it with its off-chain metadata. Unmapped
// category or status codes fail with *failure.UnknownEnumValueError;
// metadata failures come back wrapped in *failure.NormalizationError.
func (n *Normalizer) Normalize(ctx context.Context, raw models.RawPetition, opts Options) (*models.Petition, error) {
	id := common.Hash(raw.ID).Hex()

	category, ok := models.CategoryFromCode(uint64(raw.Category))
	if !ok {
		return nil, &failure.UnknownEnumValueError{Field: "category", Value: uint64(raw.Category)}
	}
	state, ok := models.StateFromCode(uint64(raw.Status))
	if !ok {
		return nil, &failure.UnknownEnumValueError{Field: "status", Value: uint64(raw.Status)}
	}

	meta, err := n.resolver.Resolve(ctx, raw.MetadataURI)
	if err != nil {
		return nil, &failure.NormalizationError{PetitionID: id, Err: err}
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	endDate := unix(raw.EndDate)
	isCompleted := state == models.StateCompleted
	isExpired := now.After(endDate) && state != models.StateCompleted

	tags := raw.Tags
	if tags == nil {
		tags = []string{}
	}

	p := &models.Petition{
		ID:               id,
		TokenID:          bigString(raw.TokenID),
		Owner:            raw.Owner,
		MetadataURI:      raw.MetadataURI,
		Title:            meta.Title,
		Description:      meta.Description,
		Image:            meta.Image,
		RichText:         meta.RichText,
		Documents:        meta.Documents,
		Category:         category,
		Tags:             tags,
		StartDate:        unix(raw.StartDate),
		EndDate:          endDate,
		CreatedAt:        unix(raw.CreatedAt),
		SignatureCount:   bigString(raw.SignatureCount),
		TargetSignatures: bigString(raw.TargetSignatures),
		Progress:         Progress(raw.SignatureCount, raw.TargetSignatures),
		State:            state,
		IsCompleted:      isCompleted,
		IsExpired:        isExpired,
		HasSigned:        opts.HasSigned,
		CanSign:          !opts.HasSigned && !isCompleted && !isExpired,
	}

	metrics.PetitionsNormalized.Inc()
	return p, nil
}

// Progress is min(signatures/target*100, 100) rounded half-up to two
// decimals. A zero or missing target yields "0".
func Progress(signatures, target *big.Int) string {
	if target == nil || target.Sign() <= 0 {
		return "0"
	}
	if signatures == nil || signatures.Sign() <= 0 {
		return decimal.Zero.StringFixed(2)
	}

	pct := decimal.NewFromBigInt(signatures, 0).
		Mul(hundred).
		Div(decimal.NewFromBigInt(target, 0))
	if pct.GreaterThan(hundred) {
		pct = hundred
	}
	return pct.StringFixed(2)
}

func unix(secs uint64) time.Time {
	if secs > 1<<62 {
		secs = 1 << 62
	}
	return time.Unix(int64(secs), 0).UTC()
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
