package petition

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"petitions/internal/chain"
	"petitions/internal/failure"
	"petitions/internal/metrics"
	"petitions/internal/models"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotFound is returned when an identifier resolves to no petition
	ErrNotFound = errors.New("petition not found")

	// ErrInvalidIdentifier is returned for identifiers that are neither a
	// bytes32 petition id nor a decimal token id
	ErrInvalidIdentifier = errors.New("invalid petition identifier")
)

// ReaderOptions configures a Reader
type ReaderOptions struct {
	// Viewer enables hasSigned lookups when set
	Viewer *common.Address
	// Concurrency bounds parallel normalizations
	Concurrency int
	Clock       clock.Clock
	Logger      *zap.Logger
}

// Reader reads petitions from the contract and normalizes them
type Reader struct {
	client      chain.Client
	normalizer  *Normalizer
	viewer      *common.Address
	concurrency int
	clock       clock.Clock
	logger      *zap.Logger
}

// NewReader creates a Reader
func NewReader(client chain.Client, normalizer *Normalizer, opts ReaderOptions) *Reader {
	r := &Reader{
		client:      client,
		normalizer:  normalizer,
		viewer:      opts.Viewer,
		concurrency: opts.Concurrency,
		clock:       opts.Clock,
		logger:      opts.Logger,
	}
	if r.concurrency < 1 {
		r.concurrency = 8
	}
	if r.clock == nil {
		r.clock = clock.New()
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.Named("reader")
	return r
}

// GetAll returns every petition that normalizes. Records that fail are
// dropped and logged. Results are ordered newest first.
func (r *Reader) GetAll(ctx context.Context) ([]*models.Petition, error) {
	out, err := r.client.ReadContract(ctx, chain.FnGetAllPetitions)
	if err != nil {
		if chain.IsNoData(err) {
			return []*models.Petition{}, nil
		}
		return nil, fmt.Errorf("failed to read petitions: %w", err)
	}

	raws, err := chain.DecodePetitions(out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode petitions: %w", err)
	}

	return r.normalizeAll(ctx, raws)
}

// GetByCategory returns petitions in one category. An out of range category
// yields an empty list without touching the chain.
func (r *Reader) GetByCategory(ctx context.Context, category int) ([]*models.Petition, error) {
	if category < 0 || category >= len(models.Categories) {
		return []*models.Petition{}, nil
	}

	out, err := r.client.ReadContract(ctx, chain.FnGetPetitionsByCategory, big.NewInt(int64(category)))
	if err != nil {
		if chain.IsNoData(err) {
			return []*models.Petition{}, nil
		}
		return nil, fmt.Errorf("failed to read category %d: %w", category, err)
	}

	raws, err := chain.DecodePetitions(out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode category %d: %w", category, err)
	}

	return r.normalizeAll(ctx, raws)
}

// GetOne returns one petition by bytes32 id or decimal token id.
// Normalization failures are returned to the caller.
func (r *Reader) GetOne(ctx context.Context, identifier string) (*models.Petition, error) {
	raw, err := r.Raw(ctx, identifier)
	if err != nil {
		return nil, err
	}

	return r.normalizer.Normalize(ctx, raw, Options{
		HasSigned: r.hasSigned(ctx, raw.ID),
		Now:       r.clock.Now(),
	})
}

// Raw returns the undecoded contract record for identifier
func (r *Reader) Raw(ctx context.Context, identifier string) (models.RawPetition, error) {
	id, err := r.resolveID(ctx, identifier)
	if err != nil {
		return models.RawPetition{}, err
	}

	out, err := r.client.ReadContract(ctx, chain.FnGetPetition, id)
	if err != nil {
		if chain.IsNoData(err) {
			return models.RawPetition{}, fmt.Errorf("%s: %w", identifier, ErrNotFound)
		}
		return models.RawPetition{}, fmt.Errorf("failed to read petition %s: %w", identifier, err)
	}

	raw, err := chain.DecodePetition(out)
	if err != nil {
		return models.RawPetition{}, fmt.Errorf("failed to decode petition %s: %w", identifier, err)
	}
	if raw.ID == ([32]byte{}) {
		return models.RawPetition{}, fmt.Errorf("%s: %w", identifier, ErrNotFound)
	}
	return raw, nil
}

// GetSigners returns the signatures recorded on a petition
func (r *Reader) GetSigners(ctx context.Context, identifier string) ([]models.Signer, error) {
	id, err := r.resolveID(ctx, identifier)
	if err != nil {
		return nil, err
	}

	out, err := r.client.ReadContract(ctx, chain.FnGetSignatures, id)
	if err != nil {
		if chain.IsNoData(err) {
			return []models.Signer{}, nil
		}
		return nil, fmt.Errorf("failed to read signers of %s: %w", identifier, err)
	}

	signers, err := chain.DecodeSigners(out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signers of %s: %w", identifier, err)
	}
	if signers == nil {
		signers = []models.Signer{}
	}
	return signers, nil
}

// resolveID accepts a 0x-prefixed bytes32 id or a decimal token id
func (r *Reader) resolveID(ctx context.Context, identifier string) ([32]byte, error) {
	identifier = strings.TrimSpace(identifier)

	if strings.HasPrefix(identifier, "0x") || strings.HasPrefix(identifier, "0X") {
		b, err := hexutil.Decode(identifier)
		if err != nil || len(b) != 32 {
			return [32]byte{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, identifier)
		}
		var id [32]byte
		copy(id[:], b)
		return id, nil
	}

	tokenID, ok := new(big.Int).SetString(identifier, 10)
	if !ok || tokenID.Sign() < 0 {
		return [32]byte{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, identifier)
	}

	out, err := r.client.ReadContract(ctx, chain.FnGetPetitionIDByTokenID, tokenID)
	if err != nil {
		if chain.IsNoData(err) {
			return [32]byte{}, fmt.Errorf("token %s: %w", identifier, ErrNotFound)
		}
		return [32]byte{}, fmt.Errorf("failed to resolve token %s: %w", identifier, err)
	}
	id, err := chain.DecodeBytes32(out)
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to decode token %s: %w", identifier, err)
	}
	if id == ([32]byte{}) {
		return [32]byte{}, fmt.Errorf("token %s: %w", identifier, ErrNotFound)
	}
	return id, nil
}

// hasSigned asks the contract whether the viewer signed. A failed lookup
// counts as not signed.
func (r *Reader) hasSigned(ctx context.Context, id [32]byte) bool {
	if r.viewer == nil {
		return false
	}
	out, err := r.client.ReadContract(ctx, chain.FnHasSigned, id, *r.viewer)
	if err == nil {
		var signed bool
		if signed, err = chain.DecodeBool(out); err == nil {
			return signed
		}
	}
	r.logger.Warn("hasSigned lookup failed",
		zap.String("petition", common.Hash(id).Hex()),
		zap.Error(err))
	return false
}

func (r *Reader) normalizeAll(ctx context.Context, raws []models.RawPetition) ([]*models.Petition, error) {
	results := make([]*models.Petition, len(raws))
	now := r.clock.Now()

	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for i := range raws {
		raw := raws[i]
		g.Go(func() error {
			p, err := r.normalizer.Normalize(ctx, raw, Options{
				HasSigned: r.hasSigned(ctx, raw.ID),
				Now:       now,
			})
			if err != nil {
				kind := failure.Classify(err).Kind
				metrics.PetitionsDropped.WithLabelValues(string(kind)).Inc()
				r.logger.Warn("Dropping petition",
					zap.String("petition", common.Hash(raw.ID).Hex()),
					zap.String("kind", string(kind)),
					zap.Error(err))
				return nil
			}
			results[i] = p
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	petitions := make([]*models.Petition, 0, len(results))
	for _, p := range results {
		if p != nil {
			petitions = append(petitions, p)
		}
	}

	sort.SliceStable(petitions, func(a, b int) bool {
		return petitions[a].CreatedAt.After(petitions[b].CreatedAt)
	})

	return petitions, nil
}
