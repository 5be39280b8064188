// Package remote talks to a DSMS backend. The interfaces describe each
// collaborator the client needs; Client implements all of them over HTTP.
package remote

import (
	"context"

	"github.com/google/uuid"

	"github.com/starford/dsms/internal/dataframe"
	"github.com/starford/dsms/internal/models"
)

// KItemStore persists knowledge items.
type KItemStore interface {
	GetKItem(ctx context.Context, id uuid.UUID) (*models.KItem, error)
	ListKItems(ctx context.Context, limit, offset int) ([]models.KItem, error)
	KItemExists(ctx context.Context, id uuid.UUID) (bool, error)
	CreateKItem(ctx context.Context, in models.KItemCreate) error
	// UpdateKItem sends the full payload including the diff fragments.
	UpdateKItem(ctx context.Context, id uuid.UUID, payload map[string]any) error
	DeleteKItem(ctx context.Context, id uuid.UUID) error
	SlugAvailable(ctx context.Context, ktypeID, slug string) (bool, error)
	Search(ctx context.Context, q models.SearchQuery) ([]models.SearchHit, error)
}

// TypeRegistry lists and persists knowledge types.
type TypeRegistry interface {
	ListKTypes(ctx context.Context) ([]models.KType, error)
	GetKType(ctx context.Context, id string) (*models.KType, error)
	CreateKType(ctx context.Context, kt models.KType) error
	UpdateKType(ctx context.Context, kt models.KType) error
	DeleteKType(ctx context.Context, id string) error
}

// AttachmentStore holds the binary attachments of kitems.
type AttachmentStore interface {
	UploadAttachment(ctx context.Context, id uuid.UUID, name string, content []byte) error
	DownloadAttachment(ctx context.Context, id uuid.UUID, name string) ([]byte, error)
	DeleteAttachment(ctx context.Context, id uuid.UUID, name string) error
}

// TableStore holds the tabular payload of kitems.
type TableStore interface {
	PutTable(ctx context.Context, id uuid.UUID, t *dataframe.Table) error
	ListColumns(ctx context.Context, id uuid.UUID) ([]models.Column, error)
	GetColumn(ctx context.Context, id uuid.UUID, column int) ([]any, error)
	DeleteTable(ctx context.Context, id uuid.UUID) error
}

// SubgraphStore holds the opaque semantic subgraph of kitems.
type SubgraphStore interface {
	GetSubgraph(ctx context.Context, id uuid.UUID) (string, error)
	PutSubgraph(ctx context.Context, id uuid.UUID, triples string) error
	DeleteSubgraph(ctx context.Context, id uuid.UUID) error
}

// AvatarStore holds kitem avatar images.
type AvatarStore interface {
	PutAvatar(ctx context.Context, id uuid.UUID, image []byte) error
	GetAvatar(ctx context.Context, id uuid.UUID) ([]byte, error)
	DeleteAvatar(ctx context.Context, id uuid.UUID) error
}

// AppStore holds app workflow specifications.
type AppStore interface {
	PutAppSpec(ctx context.Context, name string, spec []byte, overwrite bool) error
	GetAppSpec(ctx context.Context, name string) ([]byte, error)
	DeleteAppSpec(ctx context.Context, name string) error
}

// Backend is everything the client needs from a DSMS instance.
type Backend interface {
	KItemStore
	TypeRegistry
	AttachmentStore
	TableStore
	SubgraphStore
	AvatarStore
	AppStore
	Ping(ctx context.Context) error
}
