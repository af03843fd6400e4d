package chain

import (
	_ "embed"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"petitions/internal/models"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Contract function and event names
const (
	FnGetAllPetitions        = "getAllPetitions"
	FnGetPetition            = "getPetition"
	FnGetPetitionIDByTokenID = "getPetitionIdByTokenId"
	FnGetPetitionsByCategory = "getPetitionsByCategory"
	FnGetSignatures          = "getSignatures"
	FnHasSigned              = "hasSigned"
	FnCreatePetition         = "createPetition"
	FnSignPetition           = "signPetition"

	EventPetitionCreated = "PetitionCreated"
	EventPetitionSigned  = "PetitionSigned"
)

//go:embed abi/petitions.json
var petitionsABIJSON string

// PetitionsABI is the parsed petition contract ABI
var PetitionsABI = mustParseABI(petitionsABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse petitions abi: %v", err))
	}
	return parsed
}

// PetitionTuple mirrors the contract's PetitionData struct. Field names
// follow the ABI component names so abi.ConvertType can fill it.
type PetitionTuple struct {
	Id               [32]byte
	TokenId          *big.Int
	Owner            common.Address
	MetadataURI      string
	Category         uint8
	Tags             []string
	StartDate        *big.Int
	EndDate          *big.Int
	SignatureCount   *big.Int
	TargetSignatures *big.Int
	Status           uint8
	CreatedAt        *big.Int
}

// SignatureTuple mirrors the contract's Signature struct
type SignatureTuple struct {
	Signer    common.Address
	Timestamp *big.Int
	Message   string
}

// DecodePetition converts one getPetition output into a RawPetition
func DecodePetition(out []any) (models.RawPetition, error) {
	if len(out) == 0 {
		return models.RawPetition{}, ErrNoData
	}
	t, err := convert[PetitionTuple](out[0])
	if err != nil {
		return models.RawPetition{}, err
	}
	return t.Raw(), nil
}

// DecodePetitions converts a tuple[] output into RawPetitions
func DecodePetitions(out []any) ([]models.RawPetition, error) {
	if len(out) == 0 || out[0] == nil {
		return nil, nil
	}
	tuples, err := convert[[]PetitionTuple](out[0])
	if err != nil {
		return nil, err
	}
	raws := make([]models.RawPetition, 0, len(*tuples))
	for _, t := range *tuples {
		raws = append(raws, t.Raw())
	}
	return raws, nil
}

// DecodeSigners converts a getSignatures output into Signers
func DecodeSigners(out []any) ([]models.Signer, error) {
	if len(out) == 0 || out[0] == nil {
		return nil, nil
	}
	tuples, err := convert[[]SignatureTuple](out[0])
	if err != nil {
		return nil, err
	}
	signers := make([]models.Signer, 0, len(*tuples))
	for _, t := range *tuples {
		signers = append(signers, models.Signer{
			Address:   t.Signer.Hex(),
			Timestamp: unixTime(t.Timestamp),
			Message:   t.Message,
		})
	}
	return signers, nil
}

// DecodeBytes32 reads a single bytes32 output
func DecodeBytes32(out []any) ([32]byte, error) {
	if len(out) == 0 {
		return [32]byte{}, ErrNoData
	}
	id, ok := out[0].([32]byte)
	if !ok {
		return [32]byte{}, fmt.Errorf("unexpected bytes32 output %T", out[0])
	}
	return id, nil
}

// DecodeBool reads a single bool output
func DecodeBool(out []any) (bool, error) {
	if len(out) == 0 {
		return false, ErrNoData
	}
	b, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected bool output %T", out[0])
	}
	return b, nil
}

// Raw converts the tuple to the chain-agnostic record
func (t PetitionTuple) Raw() models.RawPetition {
	return models.RawPetition{
		ID:               t.Id,
		TokenID:          orZero(t.TokenId),
		Owner:            t.Owner.Hex(),
		MetadataURI:      t.MetadataURI,
		Category:         t.Category,
		Tags:             t.Tags,
		StartDate:        uint64OrZero(t.StartDate),
		EndDate:          uint64OrZero(t.EndDate),
		SignatureCount:   orZero(t.SignatureCount),
		TargetSignatures: orZero(t.TargetSignatures),
		CreatedAt:        uint64OrZero(t.CreatedAt),
		Status:           t.Status,
	}
}

// convert fills a T from an ABI-decoded value. abi.ConvertType panics on
// a shape mismatch, which here is a decoding error.
func convert[T any](in any) (out *T, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("unexpected contract output %T: %v", in, r)
		}
	}()
	t, ok := abi.ConvertType(in, new(T)).(*T)
	if !ok {
		return nil, fmt.Errorf("unexpected contract output %T", in)
	}
	return t, nil
}

func unixTime(v *big.Int) time.Time {
	secs := uint64OrZero(v)
	if secs > math.MaxInt64 {
		secs = math.MaxInt64
	}
	return time.Unix(int64(secs), 0).UTC()
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// uint64OrZero clamps on-chain uint256 timestamps into uint64
func uint64OrZero(v *big.Int) uint64 {
	if v == nil || v.Sign() < 0 {
		return 0
	}
	if !v.IsUint64() {
		return ^uint64(0)
	}
	return v.Uint64()
}
