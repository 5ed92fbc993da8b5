package commands

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	memorystore "github.com/wolfeidau/firmguard/internal/store/memory"
)

// Resource model names used with secure.ResourceAccess. They match the keys
// of postgres.DefaultResourceTables.
const (
	modelCase   = "Case"
	modelClient = "Client"
)

type caseRecord struct {
	ID         uuid.UUID `json:"id"`
	FirmID     uuid.UUID `json:"firmId"`
	CaseNumber string    `json:"caseNumber"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	OpenedAt   time.Time `json:"openedAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// clientRecord holds nationalId and iban in their encrypted form.
type clientRecord struct {
	ID         uuid.UUID `json:"id"`
	FirmID     uuid.UUID `json:"firmId"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	NationalID string    `json:"nationalId"`
	IBAN       string    `json:"iban"`
	CreatedAt  time.Time `json:"createdAt"`
}

// recordBook is the in-process backing for the demo case and client
// endpoints.
type recordBook struct {
	mu        sync.RWMutex
	cases     map[uuid.UUID]caseRecord
	clients   map[uuid.UUID]clientRecord
	ownership *memorystore.OwnershipResolver
}

func newRecordBook() *recordBook {
	return &recordBook{
		cases:     make(map[uuid.UUID]caseRecord),
		clients:   make(map[uuid.UUID]clientRecord),
		ownership: memorystore.NewOwnershipResolver(modelCase, modelClient),
	}
}

func (b *recordBook) putCase(c caseRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cases[c.ID] = c
	b.ownership.Put(modelCase, c.ID.String(), c.FirmID)
}

func (b *recordBook) putClient(c clientRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c.ID] = c
	b.ownership.Put(modelClient, c.ID.String(), c.FirmID)
}

func (b *recordBook) getCase(id uuid.UUID) (caseRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.cases[id]
	return c, ok
}

func (b *recordBook) deleteCase(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cases, id)
}

func (b *recordBook) getClient(id uuid.UUID) (clientRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.clients[id]
	return c, ok
}

// firmCases returns one page of the firm's cases, newest first, and the
// total count.
func (b *recordBook) firmCases(firmID uuid.UUID, offset, limit int) ([]caseRecord, int) {
	b.mu.RLock()
	var all []caseRecord
	for _, c := range b.cases {
		if c.FirmID == firmID {
			all = append(all, c)
		}
	}
	b.mu.RUnlock()

	slices.SortFunc(all, func(a, b caseRecord) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.CaseNumber, b.CaseNumber))
	})

	total := len(all)
	if offset >= total {
		return []caseRecord{}, total
	}
	return all[offset:min(offset+limit, total)], total
}
