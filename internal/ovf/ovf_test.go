package ovf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const engineOVF = `<?xml version="1.0" encoding="UTF-8"?>
<ovf:Envelope xmlns:ovf="http://schemas.dmtf.org/ovf/envelope/1/" xmlns:rasd="http://schemas.dmtf.org/wbem/wscim/1/cim-schema/2/CIM_ResourceAllocationSettingData" xmlns:vssd="http://schemas.dmtf.org/wbem/wscim/1/cim-schema/2/CIM_VirtualSystemSettingData" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" ovf:version="4.1.0.0">
  <References>
    <File ovf:href="7a5e0d2c-7b1a-4c4e-9a51-1b8f0c3d1f10/0b1d4c7e-3c55-4f0e-8d8c-52b1f1fd4c11" ovf:id="0b1d4c7e-3c55-4f0e-8d8c-52b1f1fd4c11" ovf:size="10737418240" ovf:description="root"></File>
  </References>
  <Section xsi:type="ovf:NetworkSection_Type"><Info>List of networks</Info></Section>
  <Section xsi:type="ovf:DiskSection_Type">
    <Info>List of Virtual Disks</Info>
    <Disk ovf:diskId="0b1d4c7e-3c55-4f0e-8d8c-52b1f1fd4c11" ovf:size="10" ovf:actual_size="2" ovf:vm_snapshot_id="5f1a" ovf:parentRef="" ovf:fileRef="7a5e0d2c-7b1a-4c4e-9a51-1b8f0c3d1f10/0b1d4c7e-3c55-4f0e-8d8c-52b1f1fd4c11" ovf:format="http://www.vmware.com/specifications/vmdk.html#sparse" ovf:volume-format="COW" ovf:volume-type="Sparse" ovf:disk-interface="VirtIO_SCSI" ovf:boot="true" ovf:pass-discard="false" ovf:disk-alias="web01_Disk1" ovf:disk-description="root" ovf:wipe-after-delete="false"></Disk>
    <Disk ovf:diskId="9c3f3a52-2d04-47a4-8a36-5f1c2e76a222" ovf:size="20" ovf:actual_size="20" ovf:fileRef="3e2c8a44-8f0b-4e8e-b1b9-6f2b2f1e6a21/9c3f3a52-2d04-47a4-8a36-5f1c2e76a222" ovf:volume-format="RAW" ovf:disk-alias="web01_Disk2" ovf:disk-description=""></Disk>
  </Section>
  <Content ovf:id="out" xsi:type="ovf:VirtualSystem_Type">
    <Name>web01</Name>
    <Description></Description>
  </Content>
</ovf:Envelope>
`

func TestParse(t *testing.T) {
	env, err := Parse(strings.NewReader(engineOVF))
	require.NoError(t, err)

	assert.Equal(t, "web01", env.Name)
	assert.Equal(t, engineOVF, env.Data)
	require.Len(t, env.Disks, 2)

	assert.Equal(t, DiskMeta{
		Boot:         true,
		VolumeFormat: FormatCOW,
		DiskID:       "0b1d4c7e-3c55-4f0e-8d8c-52b1f1fd4c11",
		Alias:        "web01_Disk1",
		Description:  "root",
		SizeBytes:    10 * (1 << 30),
		ImageGroupID: "7a5e0d2c-7b1a-4c4e-9a51-1b8f0c3d1f10",
		ImageID:      "0b1d4c7e-3c55-4f0e-8d8c-52b1f1fd4c11",
	}, env.Disks[0])

	// boot is absent on the second disk and must not inherit the first.
	assert.False(t, env.Disks[1].Boot)
	assert.Equal(t, FormatRAW, env.Disks[1].VolumeFormat)
	assert.EqualValues(t, 20*(1<<30), env.Disks[1].SizeBytes)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		disk string
	}{
		{"missing size", `<Disk ovf:diskId="d" ovf:fileRef="g/i"></Disk>`},
		{"bad size", `<Disk ovf:diskId="d" ovf:size="ten" ovf:fileRef="g/i"></Disk>`},
		{"bad fileRef", `<Disk ovf:diskId="d" ovf:size="1" ovf:fileRef="g"></Disk>`},
		{"bad boot", `<Disk ovf:diskId="d" ovf:size="1" ovf:fileRef="g/i" ovf:boot="maybe"></Disk>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := `<ovf:Envelope xmlns:ovf="http://schemas.dmtf.org/ovf/envelope/1/"><Section>` + tt.disk + `</Section></ovf:Envelope>`
			_, err := Parse(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseMalformedXML(t *testing.T) {
	_, err := Parse(strings.NewReader("<ovf:Envelope"))
	assert.Error(t, err)
}

func TestComposeRoundTrip(t *testing.T) {
	disks := []DiskMeta{
		{
			Boot:         true,
			VolumeFormat: FormatCOW,
			DiskID:       "img-1",
			Alias:        "web01_Disk1",
			Description:  `root & "boot"`,
			SizeBytes:    8 << 30,
			ImageGroupID: "grp-1",
			ImageID:      "img-1",
		},
		{
			VolumeFormat: FormatRAW,
			DiskID:       "img-2",
			Alias:        "web01_Disk2",
			SizeBytes:    1 << 30,
			ImageGroupID: "grp-2",
			ImageID:      "img-2",
		},
	}

	data, err := Compose("web01", disks)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "web01.ovf")
	require.NoError(t, os.WriteFile(path, data, 0644))

	env, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "web01", env.Name)
	assert.Equal(t, disks, env.Disks)
}

func TestSizeGiB(t *testing.T) {
	assert.EqualValues(t, 1, DiskMeta{SizeBytes: 1}.SizeGiB())
	assert.EqualValues(t, 3, DiskMeta{SizeBytes: 3 << 30}.SizeGiB())
}
