// Package ovirttest provides an in-memory oVirt engine for tests.
package ovirttest

import (
	"fmt"
	"net/http/httptest"
	"sort"
	"sync"
)

// Operations that can be made to fail with FailOn.
const (
	OpCreateSnapshot = "create-snapshot"
	OpDeleteSnapshot = "delete-snapshot"
	OpAttach         = "attach"
	OpDetach         = "detach"
	OpAddDisk        = "add-disk"
	OpAddVM          = "add-vm"
	OpAddEvent       = "add-event"
)

// DiskFixture seeds a disk on a VM.
type DiskFixture struct {
	ID          string
	ImageID     string
	Alias       string
	Description string
	Format      string
	Size        int64
	Bootable    bool
}

type vmRecord struct {
	ID      string
	Name    string
	Status  string
	OVF     string
	Cluster string
	Disks   []string
}

type diskRecord struct {
	DiskFixture
	StorageDomain string
	pending       int
}

type snapshotRecord struct {
	ID          string
	VMID        string
	Description string
	Disks       []string
	pending     int
	Polls       int
}

type attachmentRecord struct {
	ID         string
	DiskID     string
	SnapshotID string
}

// EventRecord is an event received by the engine.
type EventRecord struct {
	CustomID    int64
	Description string
	Origin      string
	Severity    string
	VMID        string
}

// Engine is the state behind a fake engine server.
type Engine struct {
	Username string
	Password string
	// PendingPolls is how many status reads a new snapshot or disk reports
	// "locked" before turning "ok".
	PendingPolls int

	mu          sync.Mutex
	tokens      map[string]bool
	vms         []*vmRecord
	disks       map[string]*diskRecord
	snapshots   map[string]*snapshotRecord
	attachments map[string][]*attachmentRecord
	events      []EventRecord
	failures    map[string]int
	domains     map[string]bool
	correlation map[string]int
	nextID      int
}

// NewEngine returns an empty engine accepting admin@internal / secret.
func NewEngine() *Engine {
	return &Engine{
		Username:    "admin@internal",
		Password:    "secret",
		tokens:      make(map[string]bool),
		disks:       make(map[string]*diskRecord),
		snapshots:   make(map[string]*snapshotRecord),
		attachments: make(map[string][]*attachmentRecord),
		failures:    make(map[string]int),
		domains:     make(map[string]bool),
		correlation: make(map[string]int),
	}
}

// Start serves the engine on a local httptest server.
func (e *Engine) Start() *httptest.Server {
	return httptest.NewServer(e.RegisterRoutes())
}

// StartTLS serves the engine over TLS with a self-signed certificate.
func (e *Engine) StartTLS() *httptest.Server {
	return httptest.NewTLSServer(e.RegisterRoutes())
}

// APIURL returns the API root for a server started with Start.
func APIURL(srv *httptest.Server) string {
	return srv.URL + "/ovirt-engine/api"
}

func (e *Engine) newID(prefix string) string {
	e.nextID++
	return fmt.Sprintf("%s-%04d", prefix, e.nextID)
}

// AddVM seeds a VM with its disks and returns its id.
func (e *Engine) AddVM(name, ovfData string, disks ...DiskFixture) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	vm := &vmRecord{ID: e.newID("vm"), Name: name, Status: "up", OVF: ovfData}
	for _, d := range disks {
		if d.ID == "" {
			d.ID = e.newID("disk")
		}
		if d.ImageID == "" {
			d.ImageID = e.newID("image")
		}
		e.disks[d.ID] = &diskRecord{DiskFixture: d}
		vm.Disks = append(vm.Disks, d.ID)
	}
	e.vms = append(e.vms, vm)
	return vm.ID
}

// AddStorageDomain declares a storage domain. Once any domain is declared,
// disks may only be created on declared domains.
func (e *Engine) AddStorageDomain(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.domains[name] = true
}

// FailOn makes the next matching operation answer with code.
func (e *Engine) FailOn(op string, code int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[op] = code
}

func (e *Engine) takeFailure(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	code := e.failures[op]
	delete(e.failures, op)
	return code
}

// Snapshots returns the ids of the snapshots currently on vmID.
func (e *Engine) Snapshots(vmID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for _, s := range e.snapshots {
		if s.VMID == vmID {
			ids = append(ids, s.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// SnapshotPolls returns how many times snapshot id was read.
func (e *Engine) SnapshotPolls(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.snapshots[id]; ok {
		return s.Polls
	}
	return 0
}

// Attachments returns the disk ids attached to vmID, in attach order.
func (e *Engine) Attachments(vmID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for _, a := range e.attachments[vmID] {
		ids = append(ids, a.DiskID)
	}
	return ids
}

// Disk returns the disk with the given id.
func (e *Engine) Disk(id string) (DiskFixture, string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.disks[id]
	if !ok {
		return DiskFixture{}, "", false
	}
	return d.DiskFixture, d.StorageDomain, true
}

// DisksOn returns the ids of disks created on the named storage domain.
func (e *Engine) DisksOn(domain string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for id, d := range e.disks {
		if d.StorageDomain == domain {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// VMNames returns the names of all VMs in creation order.
func (e *Engine) VMNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var names []string
	for _, vm := range e.vms {
		names = append(names, vm.Name)
	}
	return names
}

// VMCluster returns the cluster a registered VM was placed on.
func (e *Engine) VMCluster(name string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, vm := range e.vms {
		if vm.Name == name {
			return vm.Cluster
		}
	}
	return ""
}

// Events returns the events received so far.
func (e *Engine) Events() []EventRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]EventRecord(nil), e.events...)
}

// CorrelatedRequests returns how many API requests carried correlation id.
func (e *Engine) CorrelatedRequests(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.correlation[id]
}

// ActiveTokens returns the number of issued, unrevoked tokens.
func (e *Engine) ActiveTokens() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ok := range e.tokens {
		if ok {
			n++
		}
	}
	return n
}

func (e *Engine) findVM(id string) *vmRecord {
	for _, vm := range e.vms {
		if vm.ID == id {
			return vm
		}
	}
	return nil
}
