package phases

import (
	"errors"
	"testing"
	"time"

	"github.com/Fantasim/btcwalletsync/internal/models"
	"github.com/Fantasim/btcwalletsync/internal/nodeclient"
)

func testContext(walletAddrs map[string]int64, tipHeight int64) *Context {
	addressSet := make(map[string]struct{}, len(walletAddrs))
	addressByID := make(map[string]*models.Address, len(walletAddrs))
	for addr, id := range walletAddrs {
		addressSet[addr] = struct{}{}
		addressByID[addr] = &models.Address{ID: id, Address: addr}
	}
	return &Context{
		AddressSet:  addressSet,
		AddressByID: addressByID,
		TipHeight:   tipHeight,
	}
}

func TestResolveInputs_Coinbase(t *testing.T) {
	vins := []nodeclient.Vin{{Coinbase: true}}
	got := ResolveInputs(vins, nil)
	if len(got) != 1 || got[0].Resolved {
		t.Fatalf("ResolveInputs(coinbase) = %+v, want unresolved", got)
	}
}

func TestResolveInputs_InlinedPrevout(t *testing.T) {
	vins := []nodeclient.Vin{{Txid: "prev", Vout: 0, Prevout: &nodeclient.Prevout{Address: "addr0", Value: 1000}}}
	got := ResolveInputs(vins, nil)
	if !got[0].Resolved || got[0].Address != "addr0" || got[0].Amount != 1000 {
		t.Fatalf("ResolveInputs(inlined) = %+v", got[0])
	}
}

func TestResolveInputs_FromPrevTxCache(t *testing.T) {
	vins := []nodeclient.Vin{{Txid: "prev", Vout: 1}}
	cache := map[string]*nodeclient.TxRecord{
		"prev": {Vout: []nodeclient.Vout{{Address: "a0", Value: 1}, {Address: "a1", Value: 2000}}},
	}
	got := ResolveInputs(vins, cache)
	if !got[0].Resolved || got[0].Address != "a1" || got[0].Amount != 2000 {
		t.Fatalf("ResolveInputs(cache) = %+v", got[0])
	}
}

func TestResolveInputs_UnresolvedWhenMissing(t *testing.T) {
	vins := []nodeclient.Vin{{Txid: "unknown", Vout: 0}}
	got := ResolveInputs(vins, map[string]*nodeclient.TxRecord{})
	if got[0].Resolved {
		t.Fatalf("ResolveInputs(missing) = %+v, want unresolved", got[0])
	}
}

func TestClassify_Received(t *testing.T) {
	pc := testContext(map[string]int64{"mine0": 1}, 100)
	rec := &nodeclient.TxRecord{
		Vout: []nodeclient.Vout{{Address: "mine0", Value: 50000}},
	}
	inputs := ResolveInputs([]nodeclient.Vin{{Txid: "ext", Vout: 0, Prevout: &nodeclient.Prevout{Address: "external0", Value: 1}}}, nil)

	c := Classify(rec, inputs, 0, pc)
	if c.Type != models.TxReceived {
		t.Fatalf("Type = %v, want received", c.Type)
	}
	if c.Amount != 50000 {
		t.Errorf("Amount = %d, want 50000", c.Amount)
	}
	if c.Fee != nil {
		t.Errorf("Fee = %v, want nil for a received tx", c.Fee)
	}
	if c.CounterpartyAddress == nil || *c.CounterpartyAddress != "external0" {
		t.Errorf("CounterpartyAddress = %v, want external0", c.CounterpartyAddress)
	}
	if c.AddressID == nil || *c.AddressID != 1 {
		t.Errorf("AddressID = %v, want 1", c.AddressID)
	}
}

func TestClassify_Sent(t *testing.T) {
	pc := testContext(map[string]int64{"mine0": 1}, 100)
	fee := int64(500)
	rec := &nodeclient.TxRecord{
		Fee:  &fee,
		Vout: []nodeclient.Vout{{Address: "recipient0", Value: 20000}},
	}
	inputs := ResolveInputs([]nodeclient.Vin{{Txid: "mytx", Vout: 0, Prevout: &nodeclient.Prevout{Address: "mine0", Value: 20500}}}, nil)

	c := Classify(rec, inputs, 0, pc)
	if c.Type != models.TxSent {
		t.Fatalf("Type = %v, want sent", c.Type)
	}
	if c.Fee == nil || *c.Fee != 500 {
		t.Fatalf("Fee = %v, want 500", c.Fee)
	}
	if c.Amount != -20500 {
		t.Errorf("Amount = %d, want -20500", c.Amount)
	}
	if c.CounterpartyAddress == nil || *c.CounterpartyAddress != "recipient0" {
		t.Errorf("CounterpartyAddress = %v, want recipient0", c.CounterpartyAddress)
	}
}

func TestClassify_Consolidation(t *testing.T) {
	pc := testContext(map[string]int64{"mine0": 1, "mine1": 2}, 100)
	fee := int64(300)
	rec := &nodeclient.TxRecord{
		Fee:  &fee,
		Vout: []nodeclient.Vout{{Address: "mine1", Value: 19700}},
	}
	inputs := ResolveInputs([]nodeclient.Vin{{Txid: "mytx", Vout: 0, Prevout: &nodeclient.Prevout{Address: "mine0", Value: 20000}}}, nil)

	c := Classify(rec, inputs, 0, pc)
	if c.Type != models.TxConsolidation {
		t.Fatalf("Type = %v, want consolidation", c.Type)
	}
	if c.Amount != -300 {
		t.Errorf("Amount = %d, want -300", c.Amount)
	}
	if c.CounterpartyAddress != nil {
		t.Errorf("CounterpartyAddress = %v, want nil for a consolidation", c.CounterpartyAddress)
	}
}

func TestClassify_FeeFallsBackToInputOutputDelta(t *testing.T) {
	pc := testContext(map[string]int64{"mine0": 1}, 100)
	rec := &nodeclient.TxRecord{
		Vout: []nodeclient.Vout{{Address: "recipient0", Value: 9800}},
	}
	inputs := ResolveInputs([]nodeclient.Vin{{Txid: "mytx", Vout: 0, Prevout: &nodeclient.Prevout{Address: "mine0", Value: 10000}}}, nil)

	c := Classify(rec, inputs, 0, pc)
	if c.Fee == nil || *c.Fee != 200 {
		t.Fatalf("Fee = %v, want 200 computed from input/output delta", c.Fee)
	}
}

func TestClassify_FeeUnknownWhenInputsUnresolved(t *testing.T) {
	pc := testContext(map[string]int64{"mine0": 1}, 100)
	rec := &nodeclient.TxRecord{
		Vout: []nodeclient.Vout{{Address: "recipient0", Value: 9800}},
	}
	inputs := ResolveInputs([]nodeclient.Vin{
		{Txid: "mytx", Vout: 0, Prevout: &nodeclient.Prevout{Address: "mine0", Value: 5000}},
		{Txid: "unknown-prev", Vout: 0},
	}, map[string]*nodeclient.TxRecord{})

	c := Classify(rec, inputs, 0, pc)
	if c.Type != models.TxSent {
		t.Fatalf("Type = %v, want sent", c.Type)
	}
	if c.Fee != nil {
		t.Fatalf("Fee = %v, want nil when an input could not be resolved", c.Fee)
	}
}

func TestClassify_ConfirmationsFromBlockHeight(t *testing.T) {
	pc := testContext(map[string]int64{"mine0": 1}, 110)
	height := int64(100)
	rec := &nodeclient.TxRecord{
		BlockHeight: &height,
		Vout:        []nodeclient.Vout{{Address: "mine0", Value: 100}},
	}
	c := Classify(rec, nil, 0, pc)
	if c.Confirmations != 11 {
		t.Fatalf("Confirmations = %d, want 11", c.Confirmations)
	}
	if c.RBFStatus != models.RBFConfirmed {
		t.Errorf("RBFStatus = %v, want confirmed", c.RBFStatus)
	}
}

func TestClassify_UnconfirmedFromMempool(t *testing.T) {
	pc := testContext(map[string]int64{"mine0": 1}, 110)
	rec := &nodeclient.TxRecord{
		Vout: []nodeclient.Vout{{Address: "mine0", Value: 100}},
	}
	c := Classify(rec, nil, 0, pc)
	if c.Confirmations != 0 {
		t.Fatalf("Confirmations = %d, want 0 for a mempool tx", c.Confirmations)
	}
	if c.RBFStatus != models.RBFActive {
		t.Errorf("RBFStatus = %v, want active", c.RBFStatus)
	}
}

func TestClassify_UsesHistoryHeightWhenNoBlockHeight(t *testing.T) {
	pc := testContext(map[string]int64{"mine0": 1}, 110)
	rec := &nodeclient.TxRecord{
		Vout: []nodeclient.Vout{{Address: "mine0", Value: 100}},
	}
	c := Classify(rec, nil, 105, pc)
	if c.Confirmations != 6 {
		t.Fatalf("Confirmations = %d, want 6 from history height", c.Confirmations)
	}
}

func TestResolveBlockTime_FromRecord(t *testing.T) {
	unix := int64(1700000000)
	rec := &nodeclient.TxRecord{BlockTime: &unix}
	got := ResolveBlockTime(rec, 100, func(int64) (time.Time, error) {
		t.Fatal("fetch should not be called when BlockTime is already present")
		return time.Time{}, nil
	})
	if got == nil || got.Unix() != unix {
		t.Fatalf("ResolveBlockTime() = %v, want unix %d", got, unix)
	}
}

func TestResolveBlockTime_FetchesFromHeight(t *testing.T) {
	rec := &nodeclient.TxRecord{}
	want := time.Unix(1600000000, 0).UTC()
	got := ResolveBlockTime(rec, 50, func(h int64) (time.Time, error) {
		if h != 50 {
			t.Fatalf("fetch called with height %d, want 50", h)
		}
		return want, nil
	})
	if got == nil || !got.Equal(want) {
		t.Fatalf("ResolveBlockTime() = %v, want %v", got, want)
	}
}

func TestResolveBlockTime_NilWhenUnconfirmed(t *testing.T) {
	rec := &nodeclient.TxRecord{}
	got := ResolveBlockTime(rec, 0, func(int64) (time.Time, error) {
		t.Fatal("fetch should not be called for an unconfirmed tx")
		return time.Time{}, nil
	})
	if got != nil {
		t.Fatalf("ResolveBlockTime() = %v, want nil", got)
	}
}

func TestResolveBlockTime_NilOnFetchError(t *testing.T) {
	rec := &nodeclient.TxRecord{}
	got := ResolveBlockTime(rec, 50, func(int64) (time.Time, error) {
		return time.Time{}, errors.New("boom")
	})
	if got != nil {
		t.Fatalf("ResolveBlockTime() = %v, want nil on fetch error", got)
	}
}
