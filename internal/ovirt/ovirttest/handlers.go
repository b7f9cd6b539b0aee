package ovirttest

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"ovirt-backup/internal/ovf"
)

func boolString(b bool) string {
	return strconv.FormatBool(b)
}

func (e *Engine) injected(w http.ResponseWriter, op string) bool {
	if code := e.takeFailure(op); code != 0 {
		FaultResponse(w, "Operation Failed", "injected failure for "+op, code)
		return true
	}
	return false
}

func readBody(r *http.Request) gjson.Result {
	data, _ := io.ReadAll(r.Body)
	return gjson.ParseBytes(data)
}

func (e *Engine) tokenHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		JSONResponse(w, map[string]string{"error": "invalid_request"}, http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("grant_type") != "password" || r.PostForm.Get("scope") != "ovirt-app-api" {
		JSONResponse(w, map[string]string{"error": "invalid_request"}, http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("username") != e.Username || r.PostForm.Get("password") != e.Password {
		JSONResponse(w, map[string]string{
			"error":             "access_denied",
			"error_description": "Cannot authenticate user: Invalid user credentials.",
		}, http.StatusBadRequest)
		return
	}

	e.mu.Lock()
	token := e.newID("token")
	e.tokens[token] = true
	e.mu.Unlock()

	JSONResponse(w, map[string]string{"access_token": token, "token_type": "bearer"}, http.StatusOK)
}

func (e *Engine) revokeHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		JSONResponse(w, map[string]string{"error": "invalid_request"}, http.StatusBadRequest)
		return
	}
	e.mu.Lock()
	delete(e.tokens, r.PostForm.Get("token"))
	e.mu.Unlock()
	JSONResponse(w, map[string]string{}, http.StatusOK)
}

func vmJSON(vm *vmRecord, allContent bool) map[string]interface{} {
	out := map[string]interface{}{
		"id":     vm.ID,
		"name":   vm.Name,
		"status": vm.Status,
	}
	if allContent && vm.OVF != "" {
		out["initialization"] = map[string]interface{}{
			"configuration": map[string]string{"type": "ovf", "data": vm.OVF},
		}
	}
	return out
}

func (e *Engine) listVMsHandler(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Query().Get("search"), "name=")

	e.mu.Lock()
	defer e.mu.Unlock()
	list := []interface{}{}
	for _, vm := range e.vms {
		if name == "" || vm.Name == name {
			list = append(list, vmJSON(vm, false))
		}
	}
	if len(list) == 0 {
		JSONResponse(w, map[string]interface{}{}, http.StatusOK)
		return
	}
	JSONResponse(w, map[string]interface{}{"vm": list}, http.StatusOK)
}

func (e *Engine) getVMHandler(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	vm := e.findVM(chi.URLParam(r, "vm"))
	if vm == nil {
		FaultResponse(w, "Not Found", "", http.StatusNotFound)
		return
	}
	JSONResponse(w, vmJSON(vm, r.URL.Query().Get("all_content") == "true"), http.StatusOK)
}

func (e *Engine) addVMHandler(w http.ResponseWriter, r *http.Request) {
	if e.injected(w, OpAddVM) {
		return
	}
	body := readBody(r)
	cluster := body.Get("cluster.name").String()
	data := body.Get("initialization.configuration.data").String()
	if cluster == "" || body.Get("initialization.configuration.type").String() != "ovf" || data == "" {
		FaultResponse(w, "Incomplete parameters", "Vm [cluster.name|initialization.configuration] required for add", http.StatusBadRequest)
		return
	}
	env, err := ovf.Parse(strings.NewReader(data))
	if err != nil || env.Name == "" {
		FaultResponse(w, "Operation Failed", "invalid ovf configuration", http.StatusBadRequest)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	vm := &vmRecord{ID: e.newID("vm"), Name: env.Name, Status: "down", OVF: data, Cluster: cluster}
	for _, d := range env.Disks {
		vm.Disks = append(vm.Disks, d.ImageGroupID)
	}
	e.vms = append(e.vms, vm)
	JSONResponse(w, vmJSON(vm, false), http.StatusCreated)
}

func snapshotJSON(s *snapshotRecord) map[string]interface{} {
	status := "ok"
	if s.pending > 0 {
		status = "locked"
	}
	return map[string]interface{}{
		"id":              s.ID,
		"description":     s.Description,
		"snapshot_status": status,
		"vm":              map[string]string{"id": s.VMID},
	}
}

func (e *Engine) addSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	if e.injected(w, OpCreateSnapshot) {
		return
	}
	body := readBody(r)

	e.mu.Lock()
	defer e.mu.Unlock()
	vm := e.findVM(chi.URLParam(r, "vm"))
	if vm == nil {
		FaultResponse(w, "Not Found", "", http.StatusNotFound)
		return
	}
	snap := &snapshotRecord{
		ID:          e.newID("snapshot"),
		VMID:        vm.ID,
		Description: body.Get("description").String(),
		Disks:       append([]string(nil), vm.Disks...),
		pending:     e.PendingPolls,
	}
	e.snapshots[snap.ID] = snap
	out := snapshotJSON(snap)
	out["snapshot_status"] = "locked"
	JSONResponse(w, out, http.StatusCreated)
}

func (e *Engine) lookupSnapshot(w http.ResponseWriter, r *http.Request) *snapshotRecord {
	snap, ok := e.snapshots[chi.URLParam(r, "snapshot")]
	if !ok || snap.VMID != chi.URLParam(r, "vm") {
		FaultResponse(w, "Not Found", "", http.StatusNotFound)
		return nil
	}
	return snap
}

func (e *Engine) getSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := e.lookupSnapshot(w, r)
	if snap == nil {
		return
	}
	snap.Polls++
	out := snapshotJSON(snap)
	if snap.pending > 0 {
		snap.pending--
	}
	JSONResponse(w, out, http.StatusOK)
}

func (e *Engine) snapshotDisksHandler(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := e.lookupSnapshot(w, r)
	if snap == nil {
		return
	}
	list := []interface{}{}
	for _, id := range snap.Disks {
		if d, ok := e.disks[id]; ok {
			list = append(list, diskJSON(d))
		}
	}
	JSONResponse(w, map[string]interface{}{"disk": list}, http.StatusOK)
}

func (e *Engine) deleteSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	if e.injected(w, OpDeleteSnapshot) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := e.lookupSnapshot(w, r)
	if snap == nil {
		return
	}
	if snap.pending > 0 {
		FaultResponse(w, "Operation Failed", "Cannot remove Snapshot. Snapshot is currently being created.", http.StatusConflict)
		return
	}
	for _, atts := range e.attachments {
		for _, a := range atts {
			if a.SnapshotID == snap.ID {
				FaultResponse(w, "Operation Failed", "Cannot remove Snapshot. Disk is attached to a VM.", http.StatusConflict)
				return
			}
		}
	}
	delete(e.snapshots, snap.ID)
	JSONResponse(w, map[string]interface{}{}, http.StatusOK)
}

func attachmentJSON(a *attachmentRecord) map[string]interface{} {
	return map[string]interface{}{
		"id":        a.ID,
		"disk":      map[string]string{"id": a.DiskID},
		"interface": "virtio",
		"bootable":  "false",
		"active":    "true",
	}
}

func (e *Engine) listAttachmentsHandler(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	vmID := chi.URLParam(r, "vm")
	if e.findVM(vmID) == nil {
		FaultResponse(w, "Not Found", "", http.StatusNotFound)
		return
	}
	list := []interface{}{}
	for _, a := range e.attachments[vmID] {
		list = append(list, attachmentJSON(a))
	}
	JSONResponse(w, map[string]interface{}{"disk_attachment": list}, http.StatusOK)
}

func (e *Engine) addAttachmentHandler(w http.ResponseWriter, r *http.Request) {
	if e.injected(w, OpAttach) {
		return
	}
	body := readBody(r)
	diskID := body.Get("disk.id").String()
	snapshotID := body.Get("disk.snapshot.id").String()

	e.mu.Lock()
	defer e.mu.Unlock()
	vmID := chi.URLParam(r, "vm")
	if e.findVM(vmID) == nil {
		FaultResponse(w, "Not Found", "", http.StatusNotFound)
		return
	}
	if _, ok := e.disks[diskID]; !ok {
		FaultResponse(w, "Operation Failed", "disk "+diskID+" not found", http.StatusBadRequest)
		return
	}
	if snapshotID != "" {
		if _, ok := e.snapshots[snapshotID]; !ok {
			FaultResponse(w, "Operation Failed", "snapshot "+snapshotID+" not found", http.StatusBadRequest)
			return
		}
	}
	for _, a := range e.attachments[vmID] {
		if a.DiskID == diskID {
			FaultResponse(w, "Operation Failed", "disk already attached", http.StatusConflict)
			return
		}
	}
	att := &attachmentRecord{ID: diskID, DiskID: diskID, SnapshotID: snapshotID}
	e.attachments[vmID] = append(e.attachments[vmID], att)
	JSONResponse(w, attachmentJSON(att), http.StatusCreated)
}

func (e *Engine) deleteAttachmentHandler(w http.ResponseWriter, r *http.Request) {
	if e.injected(w, OpDetach) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	vmID := chi.URLParam(r, "vm")
	id := chi.URLParam(r, "attachment")
	atts := e.attachments[vmID]
	for i, a := range atts {
		if a.ID == id {
			e.attachments[vmID] = append(atts[:i], atts[i+1:]...)
			JSONResponse(w, map[string]interface{}{}, http.StatusOK)
			return
		}
	}
	FaultResponse(w, "Not Found", "", http.StatusNotFound)
}

func diskJSON(d *diskRecord) map[string]interface{} {
	status := "ok"
	if d.pending > 0 {
		status = "locked"
	}
	return map[string]interface{}{
		"id":               d.ID,
		"image_id":         d.ImageID,
		"alias":            d.Alias,
		"name":             d.Alias,
		"description":      d.Description,
		"format":           d.Format,
		"provisioned_size": strconv.FormatInt(d.Size, 10),
		"bootable":         boolString(d.Bootable),
		"status":           status,
	}
}

func (e *Engine) addDiskHandler(w http.ResponseWriter, r *http.Request) {
	if e.injected(w, OpAddDisk) {
		return
	}
	body := readBody(r)
	domain := body.Get("storage_domains.storage_domain.0.name").String()

	e.mu.Lock()
	defer e.mu.Unlock()
	if domain == "" || (len(e.domains) > 0 && !e.domains[domain]) {
		FaultResponse(w, "Operation Failed", "storage domain "+domain+" not found", http.StatusBadRequest)
		return
	}
	format := body.Get("format").String()
	if format != "cow" && format != "raw" {
		FaultResponse(w, "Operation Failed", "invalid disk format "+format, http.StatusBadRequest)
		return
	}
	id := body.Get("id").String()
	if id == "" {
		id = e.newID("disk")
	}
	if _, exists := e.disks[id]; exists {
		FaultResponse(w, "Operation Failed", "disk "+id+" already exists", http.StatusConflict)
		return
	}
	imageID := body.Get("image_id").String()
	if imageID == "" {
		imageID = e.newID("image")
	}
	alias := body.Get("alias").String()
	if alias == "" {
		alias = body.Get("name").String()
	}
	d := &diskRecord{
		DiskFixture: DiskFixture{
			ID:          id,
			ImageID:     imageID,
			Alias:       alias,
			Description: body.Get("description").String(),
			Format:      format,
			Size:        body.Get("provisioned_size").Int(),
			Bootable:    body.Get("bootable").Bool(),
		},
		StorageDomain: domain,
		pending:       e.PendingPolls,
	}
	e.disks[id] = d
	out := diskJSON(d)
	out["status"] = "locked"
	JSONResponse(w, out, http.StatusCreated)
}

func (e *Engine) getDiskHandler(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.disks[chi.URLParam(r, "disk")]
	if !ok {
		FaultResponse(w, "Not Found", "", http.StatusNotFound)
		return
	}
	out := diskJSON(d)
	if d.pending > 0 {
		d.pending--
	}
	JSONResponse(w, out, http.StatusOK)
}

func (e *Engine) addEventHandler(w http.ResponseWriter, r *http.Request) {
	if e.injected(w, OpAddEvent) {
		return
	}
	body := readBody(r)
	ev := EventRecord{
		CustomID:    body.Get("custom_id").Int(),
		Description: body.Get("description").String(),
		Origin:      body.Get("origin").String(),
		Severity:    body.Get("severity").String(),
		VMID:        body.Get("vm.id").String(),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, existing := range e.events {
		if existing.CustomID == ev.CustomID && existing.Origin == ev.Origin {
			FaultResponse(w, "Operation Failed", "event custom id already used", http.StatusConflict)
			return
		}
	}
	e.events = append(e.events, ev)
	JSONResponse(w, map[string]interface{}{"id": strconv.Itoa(len(e.events))}, http.StatusCreated)
}
