package bridge

// Model keys read and written by the bridge.
const (
	KeySpec             = "spec"
	KeyDebounceWait     = "debounce_wait"
	KeyDebounceMaxWait  = "debounce_max_wait"
	KeySelectionWatches = "_selection_watches"
	KeyParamWatches     = "_param_watches"
	KeySelections       = "_selections"
	KeyParams           = "_params"
	KeyError            = "_error"
)
