package custody

import "context"

// Registry is the authoritative cylinder catalog. Cylinders are created and
// edited by reference-data management; the custody workflows only read them.
//
// Implementations: store/memory, store/sqlite, store/remote.
type Registry interface {
	// CylinderByNumber resolves a normalized cylinder number.
	// Returns ErrNotFound when no cylinder carries the number.
	CylinderByNumber(ctx context.Context, number string) (*Cylinder, error)

	// CylinderByID resolves a cylinder id.
	// Returns ErrNotFound when absent.
	CylinderByID(ctx context.Context, id CylinderID) (*Cylinder, error)
}
