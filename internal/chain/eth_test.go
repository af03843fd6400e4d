package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

var testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

type fakeBackend struct {
	mu sync.Mutex

	callOut  []byte
	callErr  error
	receipts []*types.Receipt // served in order, nil means not found
	logs     []types.Log
	subErr   error
	sent     []*types.Transaction
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return f.callOut, f.callErr
}

func (f *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeBackend) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, f.subErr
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.receipts) == 0 {
		return nil, ethereum.NotFound
	}
	r := f.receipts[0]
	f.receipts = f.receipts[1:]
	if r == nil {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 100000, nil
}

func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(2_000_000_000)}, nil
}

func (f *fakeBackend) Close() {}

func newTestClient(b backend) *EthClient {
	return &EthClient{
		backend:      b,
		abi:          PetitionsABI,
		address:      testContract,
		chainID:      big.NewInt(31337),
		pollInterval: 5 * time.Millisecond,
		logger:       zap.NewNop(),
	}
}

func TestReadContract_DecodesBool(t *testing.T) {
	out, err := PetitionsABI.Methods[FnHasSigned].Outputs.Pack(true)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	c := newTestClient(&fakeBackend{callOut: out})

	values, err := c.ReadContract(context.Background(), FnHasSigned, [32]byte{1}, common.HexToAddress("0x01"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	signed, err := DecodeBool(values)
	if err != nil || !signed {
		t.Errorf("Expected true, got: %v (err %v)", signed, err)
	}
}

func TestReadContract_EmptyPayloadIsNoData(t *testing.T) {
	tests := []struct {
		name string
		b    *fakeBackend
	}{
		{"empty bytes", &fakeBackend{callOut: []byte{}}},
		{"node says no data", &fakeBackend{callErr: errors.New("execution returned no data (0x)")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestClient(tt.b).ReadContract(context.Background(), FnGetAllPetitions)
			if !errors.Is(err, ErrNoData) {
				t.Errorf("Expected ErrNoData, got: %v", err)
			}
			if !IsNoData(err) {
				t.Error("IsNoData should report true")
			}
		})
	}
}

func TestReadContract_DecodesPetitions(t *testing.T) {
	want := []PetitionTuple{{
		Id:               [32]byte{0xaa},
		TokenId:          big.NewInt(3),
		Owner:            common.HexToAddress("0x00000000000000000000000000000000000000b0"),
		MetadataURI:      "ipfs://bafy",
		Category:         2,
		Tags:             []string{"water"},
		StartDate:        big.NewInt(1700000000),
		EndDate:          big.NewInt(1800000000),
		SignatureCount:   big.NewInt(250),
		TargetSignatures: big.NewInt(1000),
		Status:           0,
		CreatedAt:        big.NewInt(1690000000),
	}}
	out, err := PetitionsABI.Methods[FnGetAllPetitions].Outputs.Pack(want)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	values, err := newTestClient(&fakeBackend{callOut: out}).ReadContract(context.Background(), FnGetAllPetitions)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	raws, err := DecodePetitions(values)
	if err != nil {
		t.Fatalf("DecodePetitions: %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("Expected 1 petition, got: %d", len(raws))
	}
	r := raws[0]
	if r.ID != want[0].Id || r.MetadataURI != "ipfs://bafy" || r.Category != 2 || r.EndDate != 1800000000 {
		t.Errorf("Unexpected decode: %+v", r)
	}
	if r.SignatureCount.Int64() != 250 || r.TargetSignatures.Int64() != 1000 {
		t.Errorf("Unexpected counts: %v/%v", r.SignatureCount, r.TargetSignatures)
	}
}

func TestReadContract_UnknownFunction(t *testing.T) {
	_, err := newTestClient(&fakeBackend{}).ReadContract(context.Background(), "nope")
	if err == nil {
		t.Error("Expected pack error for unknown function")
	}
}

func TestWaitForReceipt(t *testing.T) {
	b := &fakeBackend{receipts: []*types.Receipt{
		nil,
		nil,
		{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(42)},
	}}

	r, err := newTestClient(b).WaitForReceipt(context.Background(), "0x01")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !r.Reverted || r.BlockNumber != 42 {
		t.Errorf("Unexpected receipt: %+v", r)
	}
}

func TestWaitForReceipt_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newTestClient(&fakeBackend{}).WaitForReceipt(ctx, "0x01")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got: %v", err)
	}
}

func TestWriteContract(t *testing.T) {
	b := &fakeBackend{}
	c := newTestClient(b)

	if _, err := c.WriteContract(context.Background(), FnSignPetition, big.NewInt(1), "hi"); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("Expected ErrReadOnly, got: %v", err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	c.key = key
	c.from = crypto.PubkeyToAddress(key.PublicKey)

	txID, err := c.WriteContract(context.Background(), FnSignPetition, big.NewInt(1), "hi")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(b.sent) != 1 {
		t.Fatalf("Expected 1 sent tx, got: %d", len(b.sent))
	}
	tx := b.sent[0]
	if tx.Hash().Hex() != txID {
		t.Errorf("Expected hash %s, got: %s", tx.Hash().Hex(), txID)
	}
	if tx.Nonce() != 7 || tx.Gas() != 120000 {
		t.Errorf("Unexpected nonce/gas: %d/%d", tx.Nonce(), tx.Gas())
	}
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(31337)), tx)
	if err != nil || sender != c.from {
		t.Errorf("Expected sender %s, got: %s (err %v)", c.from.Hex(), sender.Hex(), err)
	}
}

func signedLog(t *testing.T, block uint64, tx common.Hash) types.Log {
	t.Helper()
	ev := PetitionsABI.Events[EventPetitionSigned]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(3), "for the river")
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	signer := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	return types.Log{
		Address:     testContract,
		Topics:      []common.Hash{ev.ID, common.Hash{0xaa}, common.BytesToHash(signer.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      tx,
	}
}

func TestDecodeLog(t *testing.T) {
	tx := common.HexToHash("0xbeef")
	l, err := DecodeLog(PetitionsABI.Events[EventPetitionSigned], signedLog(t, 10, tx))
	if err != nil {
		t.Fatalf("DecodeLog: %v", err)
	}
	if l.TxHash != tx.Hex() || l.Event != EventPetitionSigned {
		t.Errorf("Unexpected log: %+v", l)
	}
	if msg, _ := l.Fields["message"].(string); msg != "for the river" {
		t.Errorf("Expected message field, got: %v", l.Fields["message"])
	}
	if signer, _ := l.Fields["signer"].(common.Address); signer != common.HexToAddress("0x00000000000000000000000000000000000000c1") {
		t.Errorf("Expected signer topic, got: %v", l.Fields["signer"])
	}
	if count, _ := l.Fields["signatureCount"].(*big.Int); count == nil || count.Int64() != 3 {
		t.Errorf("Expected signatureCount 3, got: %v", l.Fields["signatureCount"])
	}
}

func TestWatchEvent_BackfillsAndPolls(t *testing.T) {
	early := common.HexToHash("0x01")
	late := common.HexToHash("0x02")
	b := &fakeBackend{
		subErr: rpc.ErrNotificationsUnsupported,
		logs:   []types.Log{signedLog(t, 5, early), signedLog(t, 9, common.HexToHash("0x03"))},
	}
	b.logs[1].BlockNumber = 4 // before FromBlock, must not be delivered

	got := make(chan Log, 4)
	stop, err := newTestClient(b).WatchEvent(context.Background(), WatchRequest{Event: EventPetitionSigned, FromBlock: 5}, func(l Log) {
		got <- l
	})
	if err != nil {
		t.Fatalf("WatchEvent: %v", err)
	}
	defer stop()

	select {
	case l := <-got:
		if l.TxHash != early.Hex() {
			t.Errorf("Expected backfilled log %s, got: %s", early.Hex(), l.TxHash)
		}
	case <-time.After(time.Second):
		t.Fatal("backfilled log not delivered")
	}

	b.mu.Lock()
	b.logs = append(b.logs, signedLog(t, 6, late))
	b.mu.Unlock()

	select {
	case l := <-got:
		if l.TxHash != late.Hex() {
			t.Errorf("Expected polled log %s, got: %s", late.Hex(), l.TxHash)
		}
	case <-time.After(time.Second):
		t.Fatal("polled log not delivered")
	}

	stop()
	stop() // idempotent
}

func TestWatchEvent_UnknownEvent(t *testing.T) {
	_, err := newTestClient(&fakeBackend{}).WatchEvent(context.Background(), WatchRequest{Event: "Nope"}, func(Log) {})
	if err == nil {
		t.Error("Expected error for unknown event")
	}
}
