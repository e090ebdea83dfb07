package channel

import "github.com/roach88/mutate/internal/ir"

// SliceLoading is the state slice holding the number of in-flight requests.
// Loading indicators render from it.
const SliceLoading = "loading"

func defaultReducers() map[string]Reducer {
	return map[string]Reducer{
		SliceLoading: LoadingReducer,
	}
}

// LoadingReducer counts in-flight requests: +1 on CUSTOM_FETCH, -1 when the
// matching success or failure arrives. It never goes below zero, so a
// journal replayed from the middle of a request cannot wedge it negative.
func LoadingReducer(prev ir.Value, a ir.Action) ir.Value {
	n, _ := prev.(ir.Int)
	switch a.Type {
	case ir.ActionCustomFetch:
		n++
	case ir.ActionCustomFetchSuccess, ir.ActionCustomFetchFailure:
		if n > 0 {
			n--
		}
	}
	return n
}

// InFlight reads the loading slice from a state snapshot.
func InFlight(state ir.Object) int64 {
	n, _ := state.Get(SliceLoading).(ir.Int)
	return int64(n)
}
