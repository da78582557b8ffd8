package store

import (
	"sort"
	"sync"
	"time"

	"wolkeposter/pkg/domain"
)

// MemoryStore keeps all rows in-process. It mirrors GormStore behavior
// closely enough to back handler and app tests without a database.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]domain.User
	usernames   map[string]string // username -> user ID
	products    map[string]domain.Product
	backgrounds map[string]domain.Background
	posters     map[string]domain.Poster
	assets      map[string]domain.Asset
	order       int64 // insertion counter for stable list ordering
	inserted    map[string]int64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]domain.User),
		usernames:   make(map[string]string),
		products:    make(map[string]domain.Product),
		backgrounds: make(map[string]domain.Background),
		posters:     make(map[string]domain.Poster),
		assets:      make(map[string]domain.Asset),
		inserted:    make(map[string]int64),
	}
}

// SaveUser registers a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.usernames[u.Username] = u.ID
	return nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByUsername looks up a user by username.
func (m *MemoryStore) GetUserByUsername(username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usernames[username]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// UserCount returns number of users.
func (m *MemoryStore) UserCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// SaveProduct stores one product row.
func (m *MemoryStore) SaveProduct(p domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeProduct(p)
	return nil
}

// BulkSaveProducts inserts all given products.
func (m *MemoryStore) BulkSaveProducts(products []domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range products {
		m.storeProduct(p)
	}
	return nil
}

func (m *MemoryStore) storeProduct(p domain.Product) {
	if _, exists := m.products[p.ID]; !exists {
		m.order++
		m.inserted[p.ID] = m.order
	}
	m.products[p.ID] = p
}

// ListProductsByOwner returns the owner's products, most recent first.
func (m *MemoryStore) ListProductsByOwner(ownerID string) ([]domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Product, 0)
	for _, p := range m.products {
		if p.OwnerID == ownerID {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return m.inserted[res[i].ID] > m.inserted[res[j].ID]
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

// SaveBackground stores a background record.
func (m *MemoryStore) SaveBackground(b domain.Background) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.backgrounds[b.ID]; !exists {
		m.order++
		m.inserted[b.ID] = m.order
	}
	m.backgrounds[b.ID] = b
	return nil
}

// GetBackground retrieves a background by ID.
func (m *MemoryStore) GetBackground(id string) (domain.Background, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.backgrounds[id]
	return b, ok, nil
}

// ListBackgroundsByOwner returns the owner's backgrounds, most recent first.
func (m *MemoryStore) ListBackgroundsByOwner(ownerID string) ([]domain.Background, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Background, 0)
	for _, b := range m.backgrounds {
		if b.OwnerID == ownerID {
			res = append(res, b)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return m.inserted[res[i].ID] > m.inserted[res[j].ID]
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

// SetBackgroundResult advances a background's status. Terminal records
// are never overwritten.
func (m *MemoryStore) SetBackgroundResult(id string, status domain.BackgroundStatus, url, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.backgrounds[id]
	if !ok || b.Status.Terminal() {
		return nil
	}
	b.Status = status
	b.URL = url
	b.ErrorMessage = errMsg
	b.UpdatedAt = time.Now().UTC()
	m.backgrounds[id] = b
	return nil
}

// SavePoster stores or replaces a poster record.
func (m *MemoryStore) SavePoster(p domain.Poster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.posters[p.ID]; !exists {
		m.order++
		m.inserted[p.ID] = m.order
	}
	m.posters[p.ID] = p
	return nil
}

// GetPoster retrieves a poster by ID.
func (m *MemoryStore) GetPoster(id string) (domain.Poster, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.posters[id]
	return p, ok, nil
}

// ListPostersByOwner returns the owner's posters, most recent first.
func (m *MemoryStore) ListPostersByOwner(ownerID string) ([]domain.Poster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Poster, 0)
	for _, p := range m.posters {
		if p.OwnerID == ownerID {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return m.inserted[res[i].ID] > m.inserted[res[j].ID]
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

// SetPosterStatus updates only the poster lifecycle status.
func (m *MemoryStore) SetPosterStatus(id string, status domain.PosterStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posters[id]
	if !ok {
		return nil
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	m.posters[id] = p
	return nil
}

// SaveAsset stores a write-once asset record.
func (m *MemoryStore) SaveAsset(a domain.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[a.ID] = a
	return nil
}

// GetAsset retrieves an asset by ID.
func (m *MemoryStore) GetAsset(id string) (domain.Asset, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[id]
	return a, ok, nil
}
