package testutil

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	ctImageStorage         = "1.2.840.10008.5.1.4.1.1.2"
	explicitVRLittleEndian = "1.2.840.10008.1.2.1"
)

// DICOMSlice describes one single frame, 16-bit, axial image for WriteDICOM.
type DICOMSlice struct {
	Rows, Cols int
	// Pixels are stored values in row-major order, before rescaling
	Pixels   []uint16
	Instance int
	Position [3]float64
	// PixelSpacing is (row spacing, column spacing)
	PixelSpacing     [2]float64
	Slope, Intercept float64
}

// WriteDICOM writes s as an explicit VR little-endian DICOM file.
func WriteDICOM(t testing.TB, dir, name string, s DICOMSlice) string {
	t.Helper()
	require.Len(t, s.Pixels, s.Rows*s.Cols, "testutil: pixel count")

	num := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	var ds dicom.Dataset
	add := func(tg tag.Tag, value any) {
		el, err := dicom.NewElement(tg, value)
		require.NoError(t, err, "testutil: element %v", tg)
		ds.Elements = append(ds.Elements, el)
	}
	instanceUID := "1.2.826.0.1.3680043.2.1125." + strconv.Itoa(s.Instance)

	add(tag.MediaStorageSOPClassUID, []string{ctImageStorage})
	add(tag.MediaStorageSOPInstanceUID, []string{instanceUID})
	add(tag.TransferSyntaxUID, []string{explicitVRLittleEndian})
	add(tag.SOPClassUID, []string{ctImageStorage})
	add(tag.SOPInstanceUID, []string{instanceUID})
	add(tag.Modality, []string{"CT"})
	add(tag.InstanceNumber, []string{strconv.Itoa(s.Instance)})
	add(tag.ImagePositionPatient, []string{num(s.Position[0]), num(s.Position[1]), num(s.Position[2])})
	add(tag.ImageOrientationPatient, []string{"1", "0", "0", "0", "1", "0"})
	add(tag.SamplesPerPixel, []int{1})
	add(tag.PhotometricInterpretation, []string{"MONOCHROME2"})
	add(tag.NumberOfFrames, []string{"1"})
	add(tag.Rows, []int{s.Rows})
	add(tag.Columns, []int{s.Cols})
	add(tag.PixelSpacing, []string{num(s.PixelSpacing[0]), num(s.PixelSpacing[1])})
	add(tag.BitsAllocated, []int{16})
	add(tag.BitsStored, []int{16})
	add(tag.HighBit, []int{15})
	add(tag.PixelRepresentation, []int{0})
	add(tag.RescaleIntercept, []string{num(s.Intercept)})
	add(tag.RescaleSlope, []string{num(s.Slope)})

	var buf bytes.Buffer
	require.NoError(t, dicom.Write(&buf, ds))

	// Pixel data goes last as a raw OW element so the stored samples are
	// exactly the ones given.
	pixels := make([]byte, 2*len(s.Pixels))
	for i, p := range s.Pixels {
		binary.LittleEndian.PutUint16(pixels[2*i:], p)
	}
	header := make([]byte, 12)
	binary.LittleEndian.PutUint16(header[0:2], tag.PixelData.Group)
	binary.LittleEndian.PutUint16(header[2:4], tag.PixelData.Element)
	copy(header[4:6], "OW")
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(pixels)))
	buf.Write(header)
	buf.Write(pixels)

	return WriteFile(t, dir, name, buf.Bytes())
}
