package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"carbonlink/core/types"
)

var (
	ErrUnknownProject    = errors.New("registry: unknown project")
	ErrInvalidCredential = errors.New("registry: invalid credential request")
)

// Fixture is the on-disk YAML layout of a static registry.
type Fixture struct {
	Flights   []string         `yaml:"flights"`
	Projects  []ProjectFixture `yaml:"projects"`
	Verifiers []VerifierEntry  `yaml:"verifiers"`
}

type ProjectFixture struct {
	ID           string   `yaml:"id"`
	Owner        string   `yaml:"owner"`
	Participants []string `yaml:"participants"`
}

type VerifierEntry struct {
	Address    string `yaml:"address"`
	Authorized bool   `yaml:"authorized"`
}

// Credential is an offset credential issued by the static registry.
type Credential struct {
	ID        string
	Owner     [20]byte
	FlightID  string
	ProjectID string
	Amount    *big.Int
}

type projectEntry struct {
	owner        [20]byte
	participants [][20]byte
}

// Static serves flight, project, credential and verifier lookups from an
// in-memory fixture.
type Static struct {
	mu          sync.RWMutex
	flights     map[string]struct{}
	projects    map[string]projectEntry
	roster      [][20]byte
	authorized  map[[20]byte]bool
	credentials map[string]Credential
}

// LoadStatic reads and parses the YAML fixture at path.
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read fixture: %w", err)
	}
	return ParseStatic(data)
}

// ParseStatic builds a registry from YAML fixture bytes.
func ParseStatic(data []byte) (*Static, error) {
	var fixture Fixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("registry: decode fixture: %w", err)
	}
	return NewStatic(fixture)
}

// NewStatic validates the fixture and indexes it.
func NewStatic(fixture Fixture) (*Static, error) {
	s := &Static{
		flights:     make(map[string]struct{}, len(fixture.Flights)),
		projects:    make(map[string]projectEntry, len(fixture.Projects)),
		authorized:  make(map[[20]byte]bool, len(fixture.Verifiers)),
		credentials: make(map[string]Credential),
	}
	for _, flight := range fixture.Flights {
		if id := strings.TrimSpace(flight); id != "" {
			s.flights[id] = struct{}{}
		}
	}
	for _, p := range fixture.Projects {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, fmt.Errorf("registry: project id required")
		}
		owner, err := types.ParseAddress(p.Owner)
		if err != nil {
			return nil, fmt.Errorf("registry: project %s owner: %w", id, err)
		}
		entry := projectEntry{owner: owner}
		for _, raw := range p.Participants {
			participant, err := types.ParseAddress(raw)
			if err != nil {
				return nil, fmt.Errorf("registry: project %s participant: %w", id, err)
			}
			entry.participants = append(entry.participants, participant)
		}
		s.projects[id] = entry
	}
	for _, v := range fixture.Verifiers {
		addr, err := types.ParseAddress(v.Address)
		if err != nil {
			return nil, fmt.Errorf("registry: verifier: %w", err)
		}
		if _, seen := s.authorized[addr]; !seen {
			s.roster = append(s.roster, addr)
		}
		s.authorized[addr] = v.Authorized
	}
	return s, nil
}

func (s *Static) ValidateFlight(_ context.Context, flightID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.flights[flightID]
	return ok, nil
}

func (s *Static) ValidateProject(_ context.Context, projectID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.projects[projectID]
	return ok, nil
}

func (s *Static) ProjectOwner(_ context.Context, projectID string) ([20]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok {
		return [20]byte{}, fmt.Errorf("%w: %s", ErrUnknownProject, projectID)
	}
	return p.owner, nil
}

func (s *Static) ProjectParticipants(_ context.Context, projectID string) ([][20]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProject, projectID)
	}
	return append([][20]byte(nil), p.participants...), nil
}

// IssueCredential records a new credential and returns its identifier.
func (s *Static) IssueCredential(_ context.Context, owner [20]byte, flightID, projectID string, amount *big.Int) (string, error) {
	if owner == ([20]byte{}) || flightID == "" || projectID == "" {
		return "", ErrInvalidCredential
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", ErrInvalidCredential)
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.credentials[id] = Credential{
		ID:        id,
		Owner:     owner,
		FlightID:  flightID,
		ProjectID: projectID,
		Amount:    new(big.Int).Set(amount),
	}
	s.mu.Unlock()
	return id, nil
}

// Credential returns a previously issued credential.
func (s *Static) Credential(id string) (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[id]
	if ok {
		c.Amount = new(big.Int).Set(c.Amount)
	}
	return c, ok
}

func (s *Static) IsAuthorizedVerifier(_ context.Context, addr [20]byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authorized[addr], nil
}

func (s *Static) VerifierRoster(context.Context) ([][20]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([][20]byte(nil), s.roster...), nil
}
