// Package ovf reads and writes the disk section of oVirt OVF documents.
package ovf

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Namespace is the OVF envelope namespace used on disk attributes.
const Namespace = "http://schemas.dmtf.org/ovf/envelope/1/"

const gib = int64(1) << 30

const (
	FormatCOW = "COW"
	FormatRAW = "RAW"
)

// DiskMeta is the metadata of one disk as recorded in the OVF.
type DiskMeta struct {
	Boot         bool
	VolumeFormat string
	DiskID       string
	Alias        string
	Description  string
	// SizeBytes is the provisioned size. OVF stores it in GiB.
	SizeBytes    int64
	ImageGroupID string
	ImageID      string
}

// Envelope holds the parsed disks and the raw document.
type Envelope struct {
	Name  string
	Disks []DiskMeta
	Data  string
}

// ParseFile parses the OVF document at path.
func ParseFile(path string) (*Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ovf %s: %w", path, err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse reads an OVF document and extracts every Disk element.
func Parse(r io.Reader) (*Envelope, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read ovf: %w", err)
	}

	env := &Envelope{Data: string(data)}
	dec := xml.NewDecoder(bytes.NewReader(data))
	var path []string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse ovf: %w", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			path = append(path, el.Name.Local)
			switch {
			case el.Name.Local == "Disk":
				disk, err := diskFromAttrs(el.Attr)
				if err != nil {
					return nil, err
				}
				env.Disks = append(env.Disks, disk)
			case el.Name.Local == "Name" && env.Name == "" && inContent(path):
				var name string
				if err := dec.DecodeElement(&name, &el); err != nil {
					return nil, fmt.Errorf("failed to parse ovf name: %w", err)
				}
				env.Name = strings.TrimSpace(name)
				path = path[:len(path)-1]
			}
		case xml.EndElement:
			if len(path) > 0 {
				path = path[:len(path)-1]
			}
		}
	}
	return env, nil
}

func inContent(path []string) bool {
	return len(path) >= 2 && path[len(path)-2] == "Content"
}

func diskFromAttrs(attrs []xml.Attr) (DiskMeta, error) {
	values := make(map[string]string, len(attrs))
	for _, a := range attrs {
		if a.Name.Space == Namespace {
			values[a.Name.Local] = a.Value
		}
	}

	disk := DiskMeta{
		VolumeFormat: values["volume-format"],
		DiskID:       values["diskId"],
		Alias:        values["disk-alias"],
		Description:  values["disk-description"],
	}
	if v, ok := values["boot"]; ok {
		boot, err := strconv.ParseBool(v)
		if err != nil {
			return disk, fmt.Errorf("disk %s: invalid boot %q", disk.DiskID, v)
		}
		disk.Boot = boot
	}

	size, err := strconv.ParseInt(strings.TrimSpace(values["size"]), 10, 64)
	if err != nil {
		return disk, fmt.Errorf("disk %s: invalid size %q", disk.DiskID, values["size"])
	}
	disk.SizeBytes = size * gib

	parts := strings.Split(values["fileRef"], "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return disk, fmt.Errorf("disk %s: invalid fileRef %q", disk.DiskID, values["fileRef"])
	}
	disk.ImageGroupID = parts[0]
	disk.ImageID = parts[1]
	return disk, nil
}

// SizeGiB returns the size rounded up to whole GiB, as stored in OVF.
func (d DiskMeta) SizeGiB() int64 {
	return (d.SizeBytes + gib - 1) / gib
}

// FileRef returns the compound image reference.
func (d DiskMeta) FileRef() string {
	return d.ImageGroupID + "/" + d.ImageID
}
