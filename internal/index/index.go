package index

import "github.com/starford/dsms/internal/models"

// Catalog defines the catalog operations the local backend needs.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type Catalog interface {
	CreateKItem(m *models.KItem) error
	SaveKItem(m *models.KItem) error
	GetKItem(id string) (*models.KItem, error)
	ListKItems(limit, offset int) ([]models.KItem, error)
	DeleteKItem(id string) error
	SlugTaken(ktypeID, slug string) (bool, error)
	Search(term string, ktypes []string) ([]string, error)
	Backlinks(target string) ([]string, error)

	UpsertKType(kt models.KType) error
	GetKType(id string) (*models.KType, error)
	ListKTypes() ([]models.KType, error)
	DeleteKType(id string) error

	PutDataframe(kitemID string, data []byte) error
	GetDataframe(kitemID string) ([]byte, error)
	DeleteDataframe(kitemID string) error

	PutSubgraph(kitemID, repository, triples string) error
	GetSubgraph(kitemID, repository string) (string, error)
	DeleteSubgraph(kitemID, repository string) error

	PutAppSpec(name string, spec []byte, overwrite bool) error
	GetAppSpec(name string) ([]byte, error)
	DeleteAppSpec(name string) error

	Close() error
}

// Verify *DB satisfies Catalog at compile time.
var _ Catalog = (*DB)(nil)
