package qemu

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"ovirt-backup/internal/cmdutil"
)

const (
	FormatQCOW2 = "qcow2"
	FormatRaw   = "raw"
)

// Image drives qemu-img through a cmdutil.Runner.
type Image struct {
	runner cmdutil.Runner
	binary string
}

// NewImage returns an Image using runner. A nil runner runs qemu-img on the host.
func NewImage(runner cmdutil.Runner) *Image {
	if runner == nil {
		runner = cmdutil.ExecRunner{}
	}
	return &Image{runner: runner, binary: "qemu-img"}
}

// Convert copies the block device src into a new image dst of the given
// format. src is always read as raw: its contents belong to the guest.
func (i *Image) Convert(ctx context.Context, src, dst, format string) error {
	if _, err := i.runner.Run(ctx, i.binary, "convert", "-f", FormatRaw, "-O", format, src, dst); err != nil {
		return fmt.Errorf("failed to convert %s to %s: %w", src, dst, err)
	}
	return nil
}

// WriteTo copies the qcow2 image src onto an existing device dst without
// recreating it.
func (i *Image) WriteTo(ctx context.Context, src, dst, format string) error {
	if _, err := i.runner.Run(ctx, i.binary, "convert", "-n", "-f", FormatQCOW2, "-O", format, src, dst); err != nil {
		return fmt.Errorf("failed to write %s to %s: %w", src, dst, err)
	}
	return nil
}

// Info returns the output of qemu-img info for path, read as format.
func (i *Image) Info(ctx context.Context, path, format string) (*ImageInfo, error) {
	out, err := i.runner.Run(ctx, i.binary, "info", "-f", format, "--output=json", path)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", path, err)
	}
	if !gjson.Valid(out) {
		return nil, fmt.Errorf("failed to parse qemu-img info for %s", path)
	}
	res := gjson.Parse(out)
	return &ImageInfo{
		Filename:    res.Get("filename").String(),
		Format:      res.Get("format").String(),
		VirtualSize: res.Get("virtual-size").Int(),
		ActualSize:  res.Get("actual-size").Int(),
		BackingFile: res.Get("backing-filename").String(),
	}, nil
}
