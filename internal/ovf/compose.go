package ovf

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
)

// Compose renders a minimal OVF envelope for a VM named name with the given
// disks. The output parses back with Parse.
func Compose(name string, disks []DiskMeta) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	fmt.Fprintf(&buf, `<ovf:Envelope xmlns:ovf=%q xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" ovf:version="4.1.0.0">`+"\n", Namespace)

	buf.WriteString("  <References>\n")
	for _, d := range disks {
		fmt.Fprintf(&buf, `    <File ovf:href="%s" ovf:id="%s" ovf:description="%s"></File>`+"\n",
			escape(d.FileRef()), escape(d.ImageID), escape(d.Description))
	}
	buf.WriteString("  </References>\n")

	buf.WriteString(`  <Section xsi:type="ovf:DiskSection_Type">` + "\n")
	buf.WriteString("    <Info>List of Virtual Disks</Info>\n")
	for _, d := range disks {
		fmt.Fprintf(&buf, `    <Disk ovf:diskId="%s" ovf:size="%d" ovf:fileRef="%s" ovf:boot="%s" ovf:volume-format="%s" ovf:disk-alias="%s" ovf:disk-description="%s"></Disk>`+"\n",
			escape(d.DiskID), d.SizeGiB(), escape(d.FileRef()), strconv.FormatBool(d.Boot),
			escape(d.VolumeFormat), escape(d.Alias), escape(d.Description))
	}
	buf.WriteString("  </Section>\n")

	buf.WriteString(`  <Content ovf:id="out" xsi:type="ovf:VirtualSystem_Type">` + "\n")
	fmt.Fprintf(&buf, "    <Name>%s</Name>\n", escape(name))
	buf.WriteString("  </Content>\n")
	buf.WriteString("</ovf:Envelope>\n")
	return buf.Bytes(), nil
}

func escape(s string) string {
	var buf bytes.Buffer
	// EscapeText only fails when the writer does.
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
