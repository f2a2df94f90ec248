// Package toolruntime tracks tool servers and the tools they expose. The
// dispatch policy reads connectivity counts from here per request; they are
// never cached because servers connect and disconnect at runtime.
package toolruntime

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"

	"github.com/parlorchat/parlor/models"
)

// Server groups tools under a named connection. A disconnected server's
// tools are not available for dispatch.
type Server struct {
	ID        string
	Connected bool
	Tools     []models.FunctionDeclaration
}

type Runtime struct {
	mu      sync.RWMutex
	servers map[string]*Server
	Logger  *log.Logger
}

func New() *Runtime {
	return &Runtime{
		servers: make(map[string]*Server),
		Logger:  log.New(os.Stderr, "[tools] ", log.LstdFlags),
	}
}

// NewWithDefaults returns a runtime with the built-in server connected.
func NewWithDefaults() *Runtime {
	rt := New()
	rt.AddServer("builtin", WebSearchTool(), GenerateImageTool())
	return rt
}

// AddServer registers a server with its tools, initially connected.
func (r *Runtime) AddServer(id string, tools ...models.FunctionDeclaration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[id] = &Server{ID: id, Connected: true, Tools: tools}
}

func (r *Runtime) RemoveServer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.servers, id)
}

func (r *Runtime) SetConnected(id string, connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if srv, ok := r.servers[id]; ok {
		srv.Connected = connected
	}
}

// ConnectedServerIDs returns the ids of currently connected servers, sorted.
func (r *Runtime) ConnectedServerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, srv := range r.servers {
		if srv.Connected {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// AvailableTools returns every tool on a connected server.
func (r *Runtime) AvailableTools() []models.FunctionDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var tools []models.FunctionDeclaration
	for _, srv := range r.servers {
		if srv.Connected {
			tools = append(tools, srv.Tools...)
		}
	}
	return tools
}

// Execute runs a tool by name. The result is always a JSON object string,
// {"result": ...} on success or {"error": ...} on failure, so callers can
// feed it back to the provider either way.
func (r *Runtime) Execute(name string, args map[string]interface{}) (string, error) {
	var callable models.ToolFunc

	r.mu.RLock()
	for _, srv := range r.servers {
		if !srv.Connected {
			continue
		}
		for _, tool := range srv.Tools {
			if tool.Name == name {
				callable = tool.Callable
				break
			}
		}
	}
	r.mu.RUnlock()

	if callable == nil {
		err := fmt.Errorf("unknown or unavailable tool: %s", name)
		return encodeError(err), err
	}

	output, err := callable(args)
	if err != nil {
		r.Logger.Printf("tool %s failed: %v", name, err)
		return encodeError(err), err
	}

	resultBytes, marshalErr := json.Marshal(map[string]string{"result": output})
	if marshalErr != nil {
		err := fmt.Errorf("failed to marshal result for %s: %w", name, marshalErr)
		return encodeError(err), err
	}
	return string(resultBytes), nil
}

func encodeError(err error) string {
	errorBytes, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(errorBytes)
}

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
