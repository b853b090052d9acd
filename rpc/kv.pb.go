// Package rpc is the gRPC front-end described in spec.md §6: three unary
// operations — get, set, remove — over a protocol-buffer-shaped schema.
//
// These message types are hand-authored rather than produced by protoc;
// see codec.go for how they reach the wire without the usual generated
// descriptor machinery.
package rpc

// GetRequest asks for the current value of Key.
type GetRequest struct {
	Key string `json:"key"`
}

// GetResponse reports whether Key had a live entry and, if so, its value.
type GetResponse struct {
	Exist bool   `json:"exist"`
	Value string `json:"value"`
}

// SetRequest installs Value for Key, superseding any prior value.
type SetRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SetResponse confirms a Set call.
type SetResponse struct {
	Success bool `json:"success"`
}

// RemoveRequest deletes Key, if present.
type RemoveRequest struct {
	Key string `json:"key"`
}

// RemoveResponse confirms a Remove call.
type RemoveResponse struct {
	Success bool `json:"success"`
}
