package apkcodec

import (
	"github.com/anaminus/parse"
)

// Res_value data types.
const (
	TypeNull             = 0x00
	TypeReference        = 0x01
	TypeAttribute        = 0x02
	TypeString           = 0x03
	TypeFloat            = 0x04
	TypeDimension        = 0x05
	TypeFraction         = 0x06
	TypeDynamicReference = 0x07
	TypeIntDec           = 0x10
	TypeIntHex           = 0x11
	TypeIntBool          = 0x12
	TypeIntColorArgb8    = 0x1c
	TypeIntColorRgb8     = 0x1d
	TypeIntColorArgb4    = 0x1e
	TypeIntColorRgb4     = 0x1f

	resValueSize = 8
)

// ResValue is a typed value as stored in attributes, table entries and text nodes.
type ResValue struct {
	Size     uint16
	Res0     uint8
	DataType uint8
	Data     uint32
}

func NewValue(dataType uint8, data uint32) ResValue {
	return ResValue{Size: resValueSize, DataType: dataType, Data: data}
}

// Tag is the value header read as one little-endian word, 0x03000008 for a string.
func (v ResValue) Tag() uint32 {
	return uint32(v.Size) | uint32(v.Res0)<<16 | uint32(v.DataType)<<24
}

func decodeValue(r *reader) (v ResValue, err error) {
	if err = r.need(resValueSize); err != nil {
		return
	}
	v.Size, _ = r.u16()
	v.Res0, _ = r.u8()
	v.DataType, _ = r.u8()
	v.Data, _ = r.u32()
	return
}

func (v ResValue) writeTo(w *parse.BinaryWriter) {
	w.Number(v.Size)
	w.Number(v.Res0)
	w.Number(v.DataType)
	w.Number(v.Data)
}
