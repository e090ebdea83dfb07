// Package provider is a reference backend adapter that serves the
// conventional admin operations from the store's records table.
//
// Payload shapes follow the usual admin data-provider conventions:
//
//	create      {data}
//	update      {id, data, previousData?}
//	delete      {id, previousData?}
//	getOne      {id}
//	getList     {pagination?: {page, perPage}, sort?: {field, order}, filter?}
//	updateMany  {ids, data}
//	deleteMany  {ids}
//
// Every operation needs a resource. Bad input fails with status 400 and a
// missing record with status 404, both as *adapter.Error.
package provider

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/roach88/mutate/internal/adapter"
	"github.com/roach88/mutate/internal/ir"
	"github.com/roach88/mutate/internal/store"
)

// Operation names served by the provider.
const (
	OpCreate     = "create"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpGetOne     = "getOne"
	OpGetList    = "getList"
	OpUpdateMany = "updateMany"
	OpDeleteMany = "deleteMany"
)

// Option configures the provider.
type Option func(*provider)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

type provider struct {
	store  *store.Store
	logger *slog.Logger
}

// New returns an adapter map over s.
func New(s *store.Store, opts ...Option) adapter.Map {
	p := &provider{store: s, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return adapter.Map{
		OpCreate:     p.create,
		OpUpdate:     p.update,
		OpDelete:     p.delete,
		OpGetOne:     p.getOne,
		OpGetList:    p.getList,
		OpUpdateMany: p.updateMany,
		OpDeleteMany: p.deleteMany,
	}
}

func (p *provider) create(ctx context.Context, resource string, payload ir.Object) (ir.Envelope, error) {
	if err := requireResource(resource); err != nil {
		return ir.Envelope{}, err
	}
	data, err := objectField(payload, "data")
	if err != nil {
		return ir.Envelope{}, err
	}
	rec, err := p.store.CreateRecord(ctx, resource, data)
	if err != nil {
		return ir.Envelope{}, p.storeError(err, resource)
	}
	p.logger.Debug("record created", "resource", resource, "id", rec[store.RecordKeyID])
	return ir.Envelope{Data: rec}, nil
}

func (p *provider) update(ctx context.Context, resource string, payload ir.Object) (ir.Envelope, error) {
	if err := requireResource(resource); err != nil {
		return ir.Envelope{}, err
	}
	id, err := intField(payload, "id")
	if err != nil {
		return ir.Envelope{}, err
	}
	data, err := objectField(payload, "data")
	if err != nil {
		return ir.Envelope{}, err
	}
	rec, err := p.store.UpdateRecord(ctx, resource, id, data)
	if err != nil {
		return ir.Envelope{}, p.storeError(err, resource)
	}
	return ir.Envelope{Data: rec}, nil
}

func (p *provider) delete(ctx context.Context, resource string, payload ir.Object) (ir.Envelope, error) {
	if err := requireResource(resource); err != nil {
		return ir.Envelope{}, err
	}
	id, err := intField(payload, "id")
	if err != nil {
		return ir.Envelope{}, err
	}
	prev, err := p.store.DeleteRecord(ctx, resource, id)
	if err != nil {
		return ir.Envelope{}, p.storeError(err, resource)
	}
	return ir.Envelope{Data: prev}, nil
}

func (p *provider) getOne(ctx context.Context, resource string, payload ir.Object) (ir.Envelope, error) {
	if err := requireResource(resource); err != nil {
		return ir.Envelope{}, err
	}
	id, err := intField(payload, "id")
	if err != nil {
		return ir.Envelope{}, err
	}
	rec, err := p.store.GetRecord(ctx, resource, id)
	if err != nil {
		return ir.Envelope{}, p.storeError(err, resource)
	}
	return ir.Envelope{Data: rec}, nil
}

func (p *provider) getList(ctx context.Context, resource string, payload ir.Object) (ir.Envelope, error) {
	if err := requireResource(resource); err != nil {
		return ir.Envelope{}, err
	}
	opts, err := listOptions(payload)
	if err != nil {
		return ir.Envelope{}, err
	}
	page, total, err := p.store.ListRecords(ctx, resource, opts)
	if err != nil {
		return ir.Envelope{}, p.storeError(err, resource)
	}

	data := make(ir.Array, len(page))
	for i, rec := range page {
		data[i] = rec
	}
	return ir.Envelope{Data: data, Total: &total}, nil
}

// updateMany applies the same patch to every id and resolves with the ids
// that were updated. The first missing record stops the batch.
func (p *provider) updateMany(ctx context.Context, resource string, payload ir.Object) (ir.Envelope, error) {
	if err := requireResource(resource); err != nil {
		return ir.Envelope{}, err
	}
	ids, err := idsField(payload)
	if err != nil {
		return ir.Envelope{}, err
	}
	data, err := objectField(payload, "data")
	if err != nil {
		return ir.Envelope{}, err
	}

	done := ir.Array{}
	for _, id := range ids {
		if _, err := p.store.UpdateRecord(ctx, resource, id, data); err != nil {
			return ir.Envelope{}, p.storeError(err, resource)
		}
		done = append(done, ir.Int(id))
	}
	return ir.Envelope{Data: done}, nil
}

func (p *provider) deleteMany(ctx context.Context, resource string, payload ir.Object) (ir.Envelope, error) {
	if err := requireResource(resource); err != nil {
		return ir.Envelope{}, err
	}
	ids, err := idsField(payload)
	if err != nil {
		return ir.Envelope{}, err
	}

	done := ir.Array{}
	for _, id := range ids {
		if _, err := p.store.DeleteRecord(ctx, resource, id); err != nil {
			return ir.Envelope{}, p.storeError(err, resource)
		}
		done = append(done, ir.Int(id))
	}
	return ir.Envelope{Data: done}, nil
}

// storeError maps a store failure onto the adapter error shape.
func (p *provider) storeError(err error, resource string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return adapter.NewError(http.StatusNotFound, "%s: record not found", resource)
	}
	p.logger.Error("store operation failed", "resource", resource, "error", err)
	return &adapter.Error{Message: err.Error(), Status: http.StatusInternalServerError}
}
