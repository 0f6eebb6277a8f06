package linkage_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"carbonlink/core/events"
	"carbonlink/core/state"
	"carbonlink/native/bank"
	"carbonlink/native/linkage"
	"carbonlink/storage"
)

func addr(b byte) [20]byte {
	var out [20]byte
	out[0] = 0xc0
	out[19] = b
	return out
}

var (
	creator   = addr(0x10)
	stranger  = addr(0x11)
	authority = addr(0xa0)
	vault     = addr(0xee)
	reserve   = addr(0xef)
	owner     = addr(0x50)
	partner1  = addr(0x51)
	partner2  = addr(0x52)
	partner3  = addr(0x53)
)

func verifier(i int) [20]byte { return addr(byte(i)) }

type project struct {
	owner        [20]byte
	participants [][20]byte
}

type fakeRegistry struct {
	mu          sync.Mutex
	flights     map[string]bool
	projects    map[string]project
	roster      [][20]byte
	authorized  map[[20]byte]bool
	ownerErr    error
	issueErr    error
	flightErr   error
	credentials int
}

func newFakeRegistry() *fakeRegistry {
	r := &fakeRegistry{
		flights: map[string]bool{"FL100": true, "FL200": true, "FL300": true},
		projects: map[string]project{
			"PRJ-AMAZON": {owner: owner, participants: [][20]byte{partner1, partner2, partner1, partner3}},
			"PRJ-BORNEO": {owner: owner},
		},
		authorized: make(map[[20]byte]bool),
	}
	for i := 1; i <= 7; i++ {
		r.roster = append(r.roster, verifier(i))
		r.authorized[verifier(i)] = true
	}
	return r
}

func (r *fakeRegistry) ValidateFlight(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flightErr != nil {
		return false, r.flightErr
	}
	return r.flights[id], nil
}

func (r *fakeRegistry) ValidateProject(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.projects[id]
	return ok, nil
}

func (r *fakeRegistry) ProjectOwner(_ context.Context, id string) ([20]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ownerErr != nil {
		return [20]byte{}, r.ownerErr
	}
	return r.projects[id].owner, nil
}

func (r *fakeRegistry) ProjectParticipants(_ context.Context, id string) ([][20]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][20]byte(nil), r.projects[id].participants...), nil
}

func (r *fakeRegistry) IssueCredential(_ context.Context, _ [20]byte, flightID, projectID string, _ *big.Int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.issueErr != nil {
		return "", r.issueErr
	}
	r.credentials++
	return fmt.Sprintf("cred-%s-%s-%d", flightID, projectID, r.credentials), nil
}

func (r *fakeRegistry) IsAuthorizedVerifier(_ context.Context, a [20]byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authorized[a], nil
}

func (r *fakeRegistry) VerifierRoster(context.Context) ([][20]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][20]byte(nil), r.roster...), nil
}

// failingLedger wraps the bank and fails transfers matching fail.
type failingLedger struct {
	*bank.Bank
	mu   sync.Mutex
	fail func(from, to [20]byte) bool
}

func (l *failingLedger) Transfer(ctx context.Context, from, to [20]byte, amount *big.Int) error {
	l.mu.Lock()
	fail := l.fail
	l.mu.Unlock()
	if fail != nil && fail(from, to) {
		return errors.New("ledger unavailable")
	}
	return l.Bank.Transfer(ctx, from, to, amount)
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	engine   *linkage.Engine
	bank     *bank.Bank
	ledger   *failingLedger
	store    *state.LinkageStore
	registry *fakeRegistry
	recorder *events.Recorder
	height   uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		bank:     bank.New(manager),
		store:    manager.LinkageStore(),
		registry: newFakeRegistry(),
		recorder: &events.Recorder{},
		height:   100,
	}
	f.ledger = &failingLedger{Bank: f.bank}
	if _, err := f.store.InitAuthority(authority); err != nil {
		t.Fatalf("init authority: %v", err)
	}
	f.mint(creator, 10_000)
	f.mint(reserve, 5_000)

	engine := linkage.NewEngine()
	engine.SetState(f.store)
	engine.SetAdapters(linkage.Adapters{
		Ledger:      f.ledger,
		Flights:     f.registry,
		Projects:    f.registry,
		Credentials: f.registry,
		Verifiers:   f.registry,
	})
	engine.SetVault(vault)
	engine.SetDisputeReserve(reserve)
	engine.SetEmitter(f.recorder)
	engine.SetHeightFunc(func() uint64 { return f.height })
	engine.SetLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	f.engine = engine
	return f
}

func (f *fixture) mint(to [20]byte, amount int64) {
	f.t.Helper()
	if err := f.bank.Mint(to, big.NewInt(amount)); err != nil {
		f.t.Fatalf("mint: %v", err)
	}
}

func (f *fixture) balance(of [20]byte) int64 {
	f.t.Helper()
	bal, err := f.bank.BalanceOf(f.ctx, of)
	if err != nil {
		f.t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func (f *fixture) escrowTotal() int64 {
	f.t.Helper()
	total, err := f.engine.EscrowTotal()
	if err != nil {
		f.t.Fatalf("escrow total: %v", err)
	}
	return total.Int64()
}

func (f *fixture) linkage(key linkage.Key) *linkage.Linkage {
	f.t.Helper()
	l, ok, err := f.engine.GetLinkage(key)
	if err != nil || !ok {
		f.t.Fatalf("get linkage %s: ok=%v err=%v", key, ok, err)
	}
	return l
}

func (f *fixture) create(key linkage.Key, payment int64) string {
	f.t.Helper()
	cred, err := f.engine.CreateLinkage(f.ctx, creator, key, big.NewInt(25), big.NewInt(payment), nil)
	if err != nil {
		f.t.Fatalf("create %s: %v", key, err)
	}
	return cred
}

func (f *fixture) vote(key linkage.Key, who [20]byte, choice string) linkage.Status {
	f.t.Helper()
	status, err := f.engine.CastVote(f.ctx, who, key, choice)
	if err != nil {
		f.t.Fatalf("vote: %v", err)
	}
	return status
}

// verify drives the linkage to Verified with three approvals.
func (f *fixture) verify(key linkage.Key) {
	f.t.Helper()
	for i := 1; i <= linkage.ConsensusThreshold; i++ {
		f.vote(key, verifier(i), "approve")
	}
	if got := f.linkage(key).Status; got != linkage.StatusVerified {
		f.t.Fatalf("expected verified, got %s", got)
	}
}

// assertVaultMatchesEscrow checks the vault holds exactly the escrow total.
func (f *fixture) assertVaultMatchesEscrow() {
	f.t.Helper()
	if vaultBal, total := f.balance(vault), f.escrowTotal(); vaultBal != total {
		f.t.Fatalf("vault balance %d does not match escrow total %d", vaultBal, total)
	}
}

var amazon = linkage.Key{FlightID: "FL100", ProjectID: "PRJ-AMAZON"}

func TestCreateLinkage(t *testing.T) {
	f := newFixture(t)
	meta := &linkage.Metadata{Description: "Lisbon to Nairobi", Tags: []string{"long-haul"}, Visible: false}
	cred, err := f.engine.CreateLinkage(f.ctx, creator, amazon, big.NewInt(25), big.NewInt(500), meta)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(cred, "cred-FL100-PRJ-AMAZON") {
		t.Fatalf("unexpected credential %q", cred)
	}
	l := f.linkage(amazon)
	if l.Status != linkage.StatusPending || l.VerificationCount != 0 || l.RejectionCount != 0 {
		t.Fatalf("unexpected linkage state: %+v", l)
	}
	if l.EscrowAmount.Int64() != 500 || l.OffsetAmount.Int64() != 25 || l.Creator != creator {
		t.Fatalf("unexpected linkage amounts: %+v", l)
	}
	if l.CreatedAt != 100 || l.LastUpdatedAt != 100 || l.CredentialID != cred {
		t.Fatalf("unexpected linkage bookkeeping: %+v", l)
	}
	if f.balance(creator) != 9_500 || f.balance(vault) != 500 || f.escrowTotal() != 500 {
		t.Fatalf("escrow not moved: creator=%d vault=%d total=%d", f.balance(creator), f.balance(vault), f.escrowTotal())
	}
	stored, ok, err := f.engine.GetMetadata(amazon)
	if err != nil || !ok {
		t.Fatalf("metadata: ok=%v err=%v", ok, err)
	}
	if !stored.Visible || stored.Description != "Lisbon to Nairobi" || len(stored.Tags) != 1 {
		t.Fatalf("unexpected metadata: %+v", stored)
	}
	if total, _ := f.engine.TotalLinkages(); total != 1 {
		t.Fatalf("expected one linkage, got %d", total)
	}
	evts := f.recorder.Events()
	if len(evts) != 1 || evts[0].Type != linkage.EventTypeCreated {
		t.Fatalf("unexpected events: %v", f.recorder.Types())
	}
	if evts[0].Attr(linkage.AttrFlight) != "FL100" || evts[0].Attr("escrow") != "500" {
		t.Fatalf("unexpected created event: %+v", evts[0])
	}
}

func TestCreateLinkagePreconditions(t *testing.T) {
	longID := strings.Repeat("F", linkage.MaxIDLength+1)
	tooManyTags := make([]string, linkage.MaxTags+1)
	for i := range tooManyTags {
		tooManyTags[i] = "t"
	}
	cases := []struct {
		name    string
		setup   func(f *fixture)
		key     linkage.Key
		offset  int64
		payment int64
		meta    *linkage.Metadata
		want    error
	}{
		{
			name: "paused wins over bad amount",
			setup: func(f *fixture) {
				if err := f.engine.Pause(f.ctx, authority); err != nil {
					t.Fatalf("pause: %v", err)
				}
			},
			key: amazon, offset: 0, payment: 0, want: linkage.ErrContractPaused,
		},
		{
			name:  "duplicate wins over bad amount",
			setup: func(f *fixture) { f.create(amazon, 100) },
			key:   amazon, offset: 0, payment: 100, want: linkage.ErrAlreadyLinked,
		},
		{name: "zero offset", key: amazon, offset: 0, payment: 100, want: linkage.ErrInvalidAmount},
		{name: "negative payment", key: amazon, offset: 1, payment: -5, want: linkage.ErrInvalidAmount},
		{
			name: "insufficient funds wins over unknown flight",
			key:  linkage.Key{FlightID: "UNKNOWN", ProjectID: "PRJ-AMAZON"}, offset: 1, payment: 20_000,
			want: linkage.ErrInsufficientFunds,
		},
		{name: "unknown flight", key: linkage.Key{FlightID: "FL999", ProjectID: "PRJ-AMAZON"}, offset: 1, payment: 10, want: linkage.ErrInvalidFlight},
		{name: "empty flight", key: linkage.Key{FlightID: "", ProjectID: "PRJ-AMAZON"}, offset: 1, payment: 10, want: linkage.ErrInvalidFlight},
		{name: "oversized flight", key: linkage.Key{FlightID: longID, ProjectID: "PRJ-AMAZON"}, offset: 1, payment: 10, want: linkage.ErrInvalidFlight},
		{name: "flight with space", key: linkage.Key{FlightID: "FL 100", ProjectID: "PRJ-AMAZON"}, offset: 1, payment: 10, want: linkage.ErrInvalidFlight},
		{
			name:  "flight registry error",
			setup: func(f *fixture) { f.registry.flightErr = errors.New("oracle down") },
			key:   amazon, offset: 1, payment: 10, want: linkage.ErrInvalidFlight,
		},
		{name: "unknown project", key: linkage.Key{FlightID: "FL100", ProjectID: "PRJ-NOPE"}, offset: 1, payment: 10, want: linkage.ErrInvalidProject},
		{
			name: "metadata tags", key: amazon, offset: 1, payment: 10,
			meta: &linkage.Metadata{Tags: tooManyTags}, want: linkage.ErrInvalidMetadata,
		},
		{
			name: "metadata description", key: amazon, offset: 1, payment: 10,
			meta: &linkage.Metadata{Description: strings.Repeat("d", linkage.MaxDescriptionLength+1)}, want: linkage.ErrInvalidMetadata,
		},
		{
			name:  "credential issuance fails",
			setup: func(f *fixture) { f.registry.issueErr = errors.New("issuer offline") },
			key:   amazon, offset: 1, payment: 10, want: linkage.ErrUnauthorized,
		},
		{
			name:  "escrow transfer fails",
			setup: func(f *fixture) { f.ledger.fail = func(_, to [20]byte) bool { return to == vault } },
			key:   amazon, offset: 1, payment: 10, want: linkage.ErrInsufficientFunds,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if tc.setup != nil {
				tc.setup(f)
			}
			beforeTotal := f.escrowTotal()
			beforeCount, _ := f.engine.TotalLinkages()
			beforeBalance := f.balance(creator)
			beforeEvents := len(f.recorder.Events())

			_, err := f.engine.CreateLinkage(f.ctx, creator, tc.key, big.NewInt(tc.offset), big.NewInt(tc.payment), tc.meta)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if got := linkage.DomainError(err); got != tc.want {
				t.Fatalf("DomainError mapped to %v", got)
			}
			afterCount, _ := f.engine.TotalLinkages()
			if f.escrowTotal() != beforeTotal || afterCount != beforeCount || f.balance(creator) != beforeBalance {
				t.Fatalf("failed create changed state")
			}
			if len(f.recorder.Events()) != beforeEvents {
				t.Fatalf("failed create emitted events: %v", f.recorder.Types())
			}
		})
	}
}

func TestEscrowAccountsCannotCreate(t *testing.T) {
	f := newFixture(t)
	f.mint(vault, 1_000)
	for _, caller := range [][20]byte{vault, reserve} {
		before := f.balance(caller)
		_, err := f.engine.CreateLinkage(f.ctx, caller, amazon, big.NewInt(1), big.NewInt(100), nil)
		if !errors.Is(err, linkage.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized for %x, got %v", caller, err)
		}
		if f.balance(caller) != before {
			t.Fatalf("balance of %x changed", caller)
		}
	}
	if f.escrowTotal() != 0 || f.registry.credentials != 0 {
		t.Fatalf("rejected creates left state: total=%d credentials=%d", f.escrowTotal(), f.registry.credentials)
	}
	if _, ok, _ := f.engine.GetLinkage(amazon); ok {
		t.Fatalf("linkage stored for escrow account")
	}
}

func TestCreateLinkageNilAmounts(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.CreateLinkage(f.ctx, creator, amazon, nil, big.NewInt(1), nil); !errors.Is(err, linkage.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestEngineRequiresConfiguration(t *testing.T) {
	engine := linkage.NewEngine()
	if _, _, err := engine.GetLinkage(amazon); err == nil {
		t.Fatalf("expected error without state")
	}
	engine.SetState(state.NewManager(storage.NewMemDB()).LinkageStore())
	if _, err := engine.CreateLinkage(context.Background(), creator, amazon, big.NewInt(1), big.NewInt(1), nil); err == nil {
		t.Fatalf("expected error without adapters")
	}
	if linkage.DomainError(nil) != nil {
		t.Fatalf("nil error should not map to a domain error")
	}
}

func TestEscrowTotalTracksVault(t *testing.T) {
	f := newFixture(t)
	keys := []linkage.Key{
		{FlightID: "FL100", ProjectID: "PRJ-AMAZON"},
		{FlightID: "FL200", ProjectID: "PRJ-AMAZON"},
		{FlightID: "FL300", ProjectID: "PRJ-BORNEO"},
	}
	for i, key := range keys {
		f.create(key, int64(100*(i+1)))
		f.assertVaultMatchesEscrow()
	}
	f.verify(keys[0])
	f.assertVaultMatchesEscrow()
	for i := 1; i <= linkage.ConsensusThreshold; i++ {
		f.vote(keys[1], verifier(i), "reject")
	}
	f.assertVaultMatchesEscrow()
	if f.escrowTotal() != 300 {
		t.Fatalf("expected only the third escrow to remain, got %d", f.escrowTotal())
	}
	if total, _ := f.engine.TotalLinkages(); total != 3 {
		t.Fatalf("expected three linkages, got %d", total)
	}
}

func TestConcurrentCreatesOnDistinctKeys(t *testing.T) {
	f := newFixture(t)
	flights := []string{"FL100", "FL200", "FL300"}
	projects := []string{"PRJ-AMAZON", "PRJ-BORNEO"}
	var wg sync.WaitGroup
	for _, flight := range flights {
		for _, project := range projects {
			wg.Add(1)
			go func(key linkage.Key) {
				defer wg.Done()
				if _, err := f.engine.CreateLinkage(f.ctx, creator, key, big.NewInt(1), big.NewInt(50), nil); err != nil {
					t.Errorf("create %s: %v", key, err)
				}
			}(linkage.Key{FlightID: flight, ProjectID: project})
		}
	}
	wg.Wait()
	if f.escrowTotal() != 300 {
		t.Fatalf("expected escrow total 300, got %d", f.escrowTotal())
	}
	if total, _ := f.engine.TotalLinkages(); total != 6 {
		t.Fatalf("expected 6 linkages, got %d", total)
	}
	f.assertVaultMatchesEscrow()
}

func TestConcurrentCreatesOnSameKey(t *testing.T) {
	f := newFixture(t)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		linked    int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.CreateLinkage(f.ctx, creator, amazon, big.NewInt(1), big.NewInt(10), nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, linkage.ErrAlreadyLinked):
				linked++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 || linked != 7 {
		t.Fatalf("expected exactly one create, got %d successes and %d duplicates", successes, linked)
	}
	if f.escrowTotal() != 10 || f.balance(creator) != 9_990 {
		t.Fatalf("escrow charged more than once: total=%d creator=%d", f.escrowTotal(), f.balance(creator))
	}
}

func TestHeightAt(t *testing.T) {
	at := time.Unix(6_000, 0)
	cases := []struct {
		name     string
		interval time.Duration
		want     uint64
	}{
		{name: "default interval", interval: 0, want: 10},
		{name: "negative uses default", interval: -time.Second, want: 10},
		{name: "one minute", interval: time.Minute, want: 100},
		{name: "sub-second clamps to one second", interval: time.Millisecond, want: 6_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := linkage.HeightAt(at, tc.interval); got != tc.want {
				t.Fatalf("HeightAt(%v) = %d, want %d", tc.interval, got, tc.want)
			}
		})
	}
	if got := linkage.HeightAt(time.Unix(0, 0), time.Second); got != 0 {
		t.Fatalf("expected height 0 at the epoch, got %d", got)
	}
}
