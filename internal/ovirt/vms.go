package ovirt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/sjson"
)

// FindVM returns the first VM named name.
func (c *Client) FindVM(ctx context.Context, name string) (*VM, error) {
	query := url.Values{}
	query.Set("search", "name="+name)
	res, err := c.do(ctx, http.MethodGet, "/vms", query, "")
	if err != nil {
		return nil, err
	}
	vms := res.Get("vm").Array()
	if len(vms) == 0 {
		return nil, fmt.Errorf("vm %q: %w", name, ErrNotFound)
	}
	vm := vmFromJSON(vms[0])
	return &vm, nil
}

// GetVM returns the VM with the given id.
func (c *Client) GetVM(ctx context.Context, id string) (*VM, error) {
	res, err := c.do(ctx, http.MethodGet, "/vms/"+url.PathEscape(id), nil, "")
	if err != nil {
		return nil, err
	}
	vm := vmFromJSON(res)
	return &vm, nil
}

// VMConfiguration returns the OVF document describing the VM.
func (c *Client) VMConfiguration(ctx context.Context, id string) (string, error) {
	query := url.Values{}
	query.Set("all_content", "true")
	res, err := c.do(ctx, http.MethodGet, "/vms/"+url.PathEscape(id), query, "")
	if err != nil {
		return "", err
	}
	data := res.Get("initialization.configuration.data").String()
	if data == "" {
		return "", fmt.Errorf("vm %s has no ovf configuration", id)
	}
	return data, nil
}

// AddVM registers a VM on cluster from an OVF document.
func (c *Client) AddVM(ctx context.Context, cluster, ovfData string) (*VM, error) {
	body := `{}`
	body, _ = sjson.Set(body, "cluster.name", cluster)
	body, _ = sjson.Set(body, "initialization.configuration.type", "ovf")
	body, _ = sjson.Set(body, "initialization.configuration.data", ovfData)

	res, err := c.do(ctx, http.MethodPost, "/vms", nil, body)
	if err != nil {
		return nil, fmt.Errorf("failed to add vm: %w", err)
	}
	vm := vmFromJSON(res)
	return &vm, nil
}
