package provider

import (
	"net/http"
	"strings"

	"github.com/roach88/mutate/internal/adapter"
	"github.com/roach88/mutate/internal/ir"
	"github.com/roach88/mutate/internal/store"
)

const defaultPerPage = 25

func badRequest(format string, args ...any) *adapter.Error {
	return adapter.NewError(http.StatusBadRequest, format, args...)
}

func requireResource(resource string) error {
	if resource == "" {
		return badRequest("a resource is required")
	}
	return nil
}

func intField(payload ir.Object, key string) (int64, error) {
	switch v := payload.Get(key).(type) {
	case ir.Int:
		return int64(v), nil
	case nil:
		return 0, badRequest("payload.%s is required", key)
	default:
		return 0, badRequest("payload.%s must be an integer, got %T", key, v)
	}
}

// objectField returns payload[key] as an object; absent means empty.
func objectField(payload ir.Object, key string) (ir.Object, error) {
	switch v := payload.Get(key).(type) {
	case ir.Object:
		return v, nil
	case nil:
		return ir.Object{}, nil
	default:
		return nil, badRequest("payload.%s must be an object, got %T", key, v)
	}
}

func idsField(payload ir.Object) ([]int64, error) {
	arr, ok := payload.Get("ids").(ir.Array)
	if !ok {
		return nil, badRequest("payload.ids must be an array of integers")
	}
	ids := make([]int64, 0, len(arr))
	for i, v := range arr {
		n, ok := v.(ir.Int)
		if !ok {
			return nil, badRequest("payload.ids[%d] must be an integer, got %T", i, v)
		}
		ids = append(ids, int64(n))
	}
	return ids, nil
}

// listOptions reads pagination (1-based page), sort and filter.
func listOptions(payload ir.Object) (store.ListOptions, error) {
	var opts store.ListOptions

	pagination, err := objectField(payload, "pagination")
	if err != nil {
		return opts, err
	}
	if len(pagination) > 0 {
		page, perPage := int64(1), int64(defaultPerPage)
		if _, ok := pagination["page"]; ok {
			if page, err = intField(pagination, "page"); err != nil {
				return opts, err
			}
		}
		if _, ok := pagination["perPage"]; ok {
			if perPage, err = intField(pagination, "perPage"); err != nil {
				return opts, err
			}
		}
		if page < 1 || perPage < 1 {
			return opts, badRequest("pagination page and perPage must be positive")
		}
		opts.Offset = int((page - 1) * perPage)
		opts.Limit = int(perPage)
	}

	sortSpec, err := objectField(payload, "sort")
	if err != nil {
		return opts, err
	}
	if field, ok := sortSpec.Get("field").(ir.String); ok {
		opts.SortField = string(field)
	}
	if order, ok := sortSpec.Get("order").(ir.String); ok {
		switch strings.ToUpper(string(order)) {
		case "ASC":
		case "DESC":
			opts.Desc = true
		default:
			return opts, badRequest("sort.order must be ASC or DESC, got %q", string(order))
		}
	}

	filter, err := objectField(payload, "filter")
	if err != nil {
		return opts, err
	}
	opts.Filter = filter
	return opts, nil
}
