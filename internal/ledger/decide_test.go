package ledger

import (
	"testing"
	"time"

	"creditgate/internal/model"
)

func TestDecide_FirstClaimWritesEverything(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	req := grantReq("acct-a", "tok1", 10)
	req.Metadata = &model.ProviderMetadata{OrderID: "GPA.1", Quantity: 1}

	res, m := Decide(req, Snapshot{Account: &model.Account{AccountID: "acct-a", CreditBalance: 7}}, "evt-1", now)

	if res.Status != model.GrantGranted || res.NewBalance != 17 || res.GrantedCredits != 10 || res.EventID != "evt-1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if m == nil {
		t.Fatal("expected a mutation")
	}
	if m.Account.CreditBalance != 17 {
		t.Errorf("account balance: %d", m.Account.CreditBalance)
	}
	if m.Record.Owner != "acct-a" || !m.Record.Granted() || m.Record.LastEventID != "evt-1" || m.Record.ProviderMetadata.OrderID != "GPA.1" {
		t.Errorf("record: %+v", m.Record)
	}
	if m.Event.Reason != model.ReasonPurchaseGrant || m.Event.DeltaCredits != 10 || !m.Event.CreatedAt.Equal(now) {
		t.Errorf("event: %+v", m.Event)
	}
	if !res.CreatedAt.Equal(m.Event.CreatedAt) {
		t.Errorf("result time %v must match event time %v", res.CreatedAt, m.Event.CreatedAt)
	}
}

func TestDecide_UnknownAccountStartsAtZero(t *testing.T) {
	res, m := Decide(grantReq("acct-new", "tok1", 20), Snapshot{}, "evt-1", time.Now())
	if res.NewBalance != 20 || m == nil || m.Account.CreditBalance != 20 {
		t.Fatalf("unexpected: %+v %+v", res, m)
	}
}

func TestDecide_OwnedButNotGrantedIsClaimedByOwner(t *testing.T) {
	snap := Snapshot{Record: &model.PurchaseRecord{PurchaseToken: "tok1", Owner: "acct-a", ClawedBackCredits: 3}}

	res, m := Decide(grantReq("acct-a", "tok1", 10), snap, "evt-1", time.Now())
	if res.Status != model.GrantGranted || m == nil {
		t.Fatalf("unexpected: %+v", res)
	}
	if m.Record.ClawedBackCredits != 3 {
		t.Errorf("clawback lost: %d", m.Record.ClawedBackCredits)
	}
}

func TestDecide_ForeignOwnerWinsOverGrantedCheck(t *testing.T) {
	snap := Snapshot{
		Record:  &model.PurchaseRecord{PurchaseToken: "tok1", Owner: "acct-a", Status: model.PurchaseStatusGranted, LastEventID: "evt-0"},
		Account: &model.Account{AccountID: "acct-b", CreditBalance: 4},
	}

	res, m := Decide(grantReq("acct-b", "tok1", 10), snap, "evt-1", time.Now())
	if res.Status != model.GrantRejected || m != nil {
		t.Fatalf("unexpected: %+v %+v", res, m)
	}
	if res.NewBalance != 4 || res.EventID != "" {
		t.Errorf("rejected result leaked state: %+v", res)
	}
}

func TestDecide_AlreadyGranted(t *testing.T) {
	snap := Snapshot{
		Record:  &model.PurchaseRecord{PurchaseToken: "tok1", Owner: "acct-a", Status: model.PurchaseStatusGranted, LastEventID: "evt-0"},
		Account: &model.Account{AccountID: "acct-a", CreditBalance: 10},
	}

	res, m := Decide(grantReq("acct-a", "tok1", 10), snap, "evt-1", time.Now())
	if m != nil {
		t.Fatal("already granted must not write")
	}
	if res.Status != model.GrantAlreadyGranted || res.EventID != "evt-0" || res.GrantedCredits != 0 || res.NewBalance != 10 {
		t.Fatalf("unexpected: %+v", res)
	}
}
