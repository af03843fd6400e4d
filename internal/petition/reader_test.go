package petition

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"petitions/internal/chain"
	"petitions/internal/chain/chaintest"
	"petitions/internal/failure"
	"petitions/internal/models"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
)

func tuple(raw models.RawPetition) chain.PetitionTuple {
	return chain.PetitionTuple{
		Id:               raw.ID,
		TokenId:          raw.TokenID,
		Owner:            common.HexToAddress(raw.Owner),
		MetadataURI:      raw.MetadataURI,
		Category:         raw.Category,
		Tags:             raw.Tags,
		StartDate:        new(big.Int).SetUint64(raw.StartDate),
		EndDate:          new(big.Int).SetUint64(raw.EndDate),
		SignatureCount:   raw.SignatureCount,
		TargetSignatures: raw.TargetSignatures,
		Status:           raw.Status,
		CreatedAt:        new(big.Int).SetUint64(raw.CreatedAt),
	}
}

func tuples(raws ...models.RawPetition) []chain.PetitionTuple {
	out := make([]chain.PetitionTuple, 0, len(raws))
	for _, r := range raws {
		out = append(out, tuple(r))
	}
	return out
}

func newTestReader(fake *chaintest.Fake, resolver stubResolver, viewer *common.Address) *Reader {
	mock := clock.NewMock()
	mock.Set(testNow)
	return NewReader(fake, NewNormalizer(resolver), ReaderOptions{
		Viewer:      viewer,
		Concurrency: 2,
		Clock:       mock,
	})
}

func TestGetAll_DropsFailedRecords(t *testing.T) {
	raws := []models.RawPetition{rawPetition(1, 1, 100), rawPetition(2, 1, 100), rawPetition(3, 1, 100), rawPetition(4, 1, 100)}
	badEnum := rawPetition(5, 1, 100)
	badEnum.Category = 42

	fake := chaintest.New()
	fake.OnRead(chain.FnGetAllPetitions, chaintest.Returns(tuples(append(raws, badEnum)...)))

	r := newTestReader(fake, stubResolver{failing: map[string]bool{raws[2].MetadataURI: true}}, nil)

	got, err := r.GetAll(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 petitions (N-1 minus bad enum), got: %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.After(got[i-1].CreatedAt) {
			t.Errorf("Expected newest first, got %v before %v", got[i-1].CreatedAt, got[i].CreatedAt)
		}
	}
	for _, p := range got {
		if p.TokenID == "3" || p.TokenID == "5" {
			t.Errorf("Failed record %s should have been dropped", p.TokenID)
		}
	}
}

func TestGetAll_EmptyResponses(t *testing.T) {
	tests := []struct {
		name string
		read chaintest.ReadFunc
	}{
		{"no data", chaintest.Fails(chain.ErrNoData)},
		{"returned no data text", chaintest.Fails(errors.New(`The contract function "getAllPetitions" returned no data ("0x")`))},
		{"empty list", chaintest.Returns([]chain.PetitionTuple{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := chaintest.New()
			fake.OnRead(chain.FnGetAllPetitions, tt.read)

			got, err := newTestReader(fake, stubResolver{}, nil).GetAll(context.Background())
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if got == nil || len(got) != 0 {
				t.Errorf("Expected empty non-nil list, got: %v", got)
			}
		})
	}
}

func TestGetAll_ReadFailurePropagates(t *testing.T) {
	fake := chaintest.New()
	fake.OnRead(chain.FnGetAllPetitions, chaintest.Fails(errors.New("dial tcp: connection refused")))

	_, err := newTestReader(fake, stubResolver{}, nil).GetAll(context.Background())
	if err == nil {
		t.Fatal("Expected error")
	}
	if failure.Classify(err).Kind != failure.NetworkError {
		t.Errorf("Expected NetworkError classification, got: %s", failure.Classify(err).Kind)
	}
}

func TestGetByCategory(t *testing.T) {
	fake := chaintest.New()
	var gotArg any
	fake.OnRead(chain.FnGetPetitionsByCategory, func(args ...any) ([]any, error) {
		gotArg = args[0]
		return []any{tuples(rawPetition(1, 1, 100))}, nil
	})
	r := newTestReader(fake, stubResolver{}, nil)

	for _, category := range []int{-1, 11, 99} {
		got, err := r.GetByCategory(context.Background(), category)
		if err != nil || len(got) != 0 {
			t.Errorf("GetByCategory(%d) = %v, %v; expected empty", category, got, err)
		}
	}
	if len(fake.Reads()) != 0 {
		t.Fatalf("Out of range categories must not read the chain, got: %v", fake.Reads())
	}

	got, err := r.GetByCategory(context.Background(), 2)
	if err != nil || len(got) != 1 {
		t.Fatalf("Expected 1 petition, got: %v (err %v)", got, err)
	}
	if arg, ok := gotArg.(*big.Int); !ok || arg.Int64() != 2 {
		t.Errorf("Expected *big.Int 2 argument, got: %v", gotArg)
	}
}

func TestGetOne(t *testing.T) {
	good := rawPetition(7, 250, 1000)
	bad := rawPetition(8, 1, 100)

	fake := chaintest.New()
	fake.OnRead(chain.FnGetPetition, func(args ...any) ([]any, error) {
		id := args[0].([32]byte)
		switch id {
		case good.ID:
			return []any{tuple(good)}, nil
		case bad.ID:
			return []any{tuple(bad)}, nil
		}
		return []any{chain.PetitionTuple{}}, nil
	})
	fake.OnRead(chain.FnGetPetitionIDByTokenID, func(args ...any) ([]any, error) {
		if args[0].(*big.Int).Int64() == 7 {
			return []any{good.ID}, nil
		}
		return []any{[32]byte{}}, nil
	})

	r := newTestReader(fake, stubResolver{failing: map[string]bool{bad.MetadataURI: true}}, nil)
	ctx := context.Background()

	byID, err := r.GetOne(ctx, common.Hash(good.ID).Hex())
	if err != nil || byID.Progress != "25.00" {
		t.Fatalf("GetOne by id = %+v, %v", byID, err)
	}

	byToken, err := r.GetOne(ctx, "7")
	if err != nil || byToken.ID != byID.ID {
		t.Fatalf("GetOne by token = %+v, %v", byToken, err)
	}

	_, err = r.GetOne(ctx, common.Hash(bad.ID).Hex())
	var norm *failure.NormalizationError
	if !errors.As(err, &norm) {
		t.Errorf("Expected NormalizationError, got: %v", err)
	}

	if _, err := r.GetOne(ctx, "99"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown token, got: %v", err)
	}
	if _, err := r.GetOne(ctx, common.Hash{0xee}.Hex()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown id, got: %v", err)
	}
	for _, bogus := range []string{"0x1234", "abc", "-1", ""} {
		if _, err := r.GetOne(ctx, bogus); !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("GetOne(%q): expected ErrInvalidIdentifier, got: %v", bogus, err)
		}
	}
}

func TestGetOne_HasSigned(t *testing.T) {
	raw := rawPetition(1, 1, 100)
	viewer := common.HexToAddress("0x00000000000000000000000000000000000000c1")

	tests := []struct {
		name    string
		read    chaintest.ReadFunc
		signed  bool
		canSign bool
	}{
		{"signed", chaintest.Returns(true), true, false},
		{"not signed", chaintest.Returns(false), false, true},
		{"lookup fails", chaintest.Fails(chaintest.ErrBoom), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := chaintest.New()
			fake.OnRead(chain.FnGetPetition, chaintest.Returns(tuple(raw)))
			fake.OnRead(chain.FnHasSigned, tt.read)

			p, err := newTestReader(fake, stubResolver{}, &viewer).GetOne(context.Background(), common.Hash(raw.ID).Hex())
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if p.HasSigned != tt.signed || p.CanSign != tt.canSign {
				t.Errorf("Got hasSigned=%v canSign=%v", p.HasSigned, p.CanSign)
			}
		})
	}
}

func TestGetSigners(t *testing.T) {
	raw := rawPetition(1, 1, 100)
	fake := chaintest.New()
	fake.OnRead(chain.FnGetSignatures, chaintest.Returns([]chain.SignatureTuple{
		{Signer: common.HexToAddress("0x00000000000000000000000000000000000000c1"), Timestamp: big.NewInt(1700000000), Message: "yes"},
	}))
	r := newTestReader(fake, stubResolver{}, nil)

	signers, err := r.GetSigners(context.Background(), common.Hash(raw.ID).Hex())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(signers) != 1 || signers[0].Message != "yes" || signers[0].Timestamp.Unix() != 1700000000 {
		t.Errorf("Unexpected signers: %+v", signers)
	}

	empty := chaintest.New()
	got, err := newTestReader(empty, stubResolver{}, nil).GetSigners(context.Background(), common.Hash(raw.ID).Hex())
	if err != nil || len(got) != 0 {
		t.Errorf("Expected empty signers, got: %v (err %v)", got, err)
	}
}
