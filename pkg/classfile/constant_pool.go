package classfile

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// Constant pool tags, per the JVM spec. The teacher (daimatz/gojvm) only
// ever needed the load-bearing subset for its interpreter; this port adds
// MethodHandle/MethodType/Dynamic/InvokeDynamic so that class files using
// them (lambdas, invokedynamic call sites) still parse. The patcher itself
// never appends entries of these kinds.
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
)

// ConstantPoolEntry is implemented by every constant pool entry kind.
type ConstantPoolEntry interface {
	Tag() uint8
}

type ConstantUtf8 struct{ Value string }

func (c *ConstantUtf8) Tag() uint8 { return TagUtf8 }

type ConstantInteger struct{ Value int32 }

func (c *ConstantInteger) Tag() uint8 { return TagInteger }

type ConstantFloat struct{ Value float32 }

func (c *ConstantFloat) Tag() uint8 { return TagFloat }

type ConstantLong struct{ Value int64 }

func (c *ConstantLong) Tag() uint8 { return TagLong }

type ConstantDouble struct{ Value float64 }

func (c *ConstantDouble) Tag() uint8 { return TagDouble }

type ConstantClass struct{ NameIndex uint16 }

func (c *ConstantClass) Tag() uint8 { return TagClass }

type ConstantString struct{ StringIndex uint16 }

func (c *ConstantString) Tag() uint8 { return TagString }

type ConstantFieldref struct {
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

func (c *ConstantFieldref) Tag() uint8 { return TagFieldref }

type ConstantMethodref struct {
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

func (c *ConstantMethodref) Tag() uint8 { return TagMethodref }

type ConstantInterfaceMethodref struct {
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

func (c *ConstantInterfaceMethodref) Tag() uint8 { return TagInterfaceMethodref }

type ConstantNameAndType struct {
	NameIndex       uint16
	DescriptorIndex uint16
}

func (c *ConstantNameAndType) Tag() uint8 { return TagNameAndType }

type ConstantMethodHandle struct {
	ReferenceKind  uint8
	ReferenceIndex uint16
}

func (c *ConstantMethodHandle) Tag() uint8 { return TagMethodHandle }

type ConstantMethodType struct{ DescriptorIndex uint16 }

func (c *ConstantMethodType) Tag() uint8 { return TagMethodType }

type ConstantDynamic struct {
	BootstrapMethodAttrIndex uint16
	NameAndTypeIndex         uint16
}

func (c *ConstantDynamic) Tag() uint8 { return TagDynamic }

type ConstantInvokeDynamic struct {
	BootstrapMethodAttrIndex uint16
	NameAndTypeIndex         uint16
}

func (c *ConstantInvokeDynamic) Tag() uint8 { return TagInvokeDynamic }

// ConstantPool is a mutable, 1-indexed constant pool. Index 0 is unused, as
// required by the JVM spec. New entries are only ever appended, never
// renumbered, so that indices handed out earlier stay valid.
type ConstantPool struct {
	entries []ConstantPoolEntry // entries[0] is nil
}

// NewConstantPool returns an empty, correctly 1-indexed pool.
func NewConstantPool() *ConstantPool {
	return &ConstantPool{entries: []ConstantPoolEntry{nil}}
}

// Len returns constant_pool_count (one more than the highest valid index).
func (p *ConstantPool) Len() int { return len(p.entries) }

// Get returns the entry at index, or nil if index is out of range.
func (p *ConstantPool) Get(index uint16) ConstantPoolEntry {
	if int(index) >= len(p.entries) {
		return nil
	}
	return p.entries[index]
}

// Append adds an entry and returns its new index. Long/Double entries must
// additionally have an invalid placeholder pushed at index+1 by the caller
// via AppendWide, per the constant pool's "two slots" rule.
func (p *ConstantPool) Append(e ConstantPoolEntry) uint16 {
	p.entries = append(p.entries, e)
	return uint16(len(p.entries) - 1)
}

// AppendWide adds a Long/Double entry and reserves the following unusable
// slot, mirroring how parseConstantPool skips an extra index for them.
func (p *ConstantPool) AppendWide(e ConstantPoolEntry) uint16 {
	idx := p.Append(e)
	p.entries = append(p.entries, nil)
	return idx
}

// Utf8 resolves a Utf8 constant, erroring if index does not name one.
func (p *ConstantPool) Utf8(index uint16) (string, error) {
	e := p.Get(index)
	u, ok := e.(*ConstantUtf8)
	if !ok {
		return "", errors.Errorf("constant pool entry #%d is not Utf8", index)
	}
	return u.Value, nil
}

// ClassName resolves a Class constant to its internal name.
func (p *ConstantPool) ClassName(index uint16) (string, error) {
	e := p.Get(index)
	c, ok := e.(*ConstantClass)
	if !ok {
		return "", errors.Errorf("constant pool entry #%d is not Class", index)
	}
	return p.Utf8(c.NameIndex)
}

// NameAndType resolves a NameAndType constant to (name, descriptor).
func (p *ConstantPool) NameAndType(index uint16) (name, desc string, err error) {
	e := p.Get(index)
	nt, ok := e.(*ConstantNameAndType)
	if !ok {
		return "", "", errors.Errorf("constant pool entry #%d is not NameAndType", index)
	}
	if name, err = p.Utf8(nt.NameIndex); err != nil {
		return "", "", err
	}
	if desc, err = p.Utf8(nt.DescriptorIndex); err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// FieldOrMethodRef resolves the owner/name/descriptor of a Fieldref,
// Methodref or InterfaceMethodref constant.
func (p *ConstantPool) FieldOrMethodRef(index uint16) (owner, name, desc string, err error) {
	var classIndex, natIndex uint16
	switch e := p.Get(index).(type) {
	case *ConstantFieldref:
		classIndex, natIndex = e.ClassIndex, e.NameAndTypeIndex
	case *ConstantMethodref:
		classIndex, natIndex = e.ClassIndex, e.NameAndTypeIndex
	case *ConstantInterfaceMethodref:
		classIndex, natIndex = e.ClassIndex, e.NameAndTypeIndex
	default:
		return "", "", "", errors.Errorf("constant pool entry #%d is not a ref", index)
	}
	if owner, err = p.ClassName(classIndex); err != nil {
		return "", "", "", err
	}
	if name, desc, err = p.NameAndType(natIndex); err != nil {
		return "", "", "", err
	}
	return owner, name, desc, nil
}

// FindUtf8 returns the index of an existing Utf8 constant equal to s, or 0
// (the invalid index) if none exists.
func (p *ConstantPool) FindUtf8(s string) uint16 {
	for i, e := range p.entries {
		if u, ok := e.(*ConstantUtf8); ok && u.Value == s {
			return uint16(i)
		}
	}
	return 0
}

// EnsureUtf8 returns the index of a Utf8 constant equal to s, appending one
// if none exists yet.
func (p *ConstantPool) EnsureUtf8(s string) uint16 {
	if idx := p.FindUtf8(s); idx != 0 {
		return idx
	}
	return p.Append(&ConstantUtf8{Value: s})
}

// EnsureClass returns the index of a Class constant naming internalName,
// appending the Class entry (and its Utf8 name, if needed) if absent.
func (p *ConstantPool) EnsureClass(internalName string) uint16 {
	nameIdx := p.EnsureUtf8(internalName)
	for i, e := range p.entries {
		if c, ok := e.(*ConstantClass); ok && c.NameIndex == nameIdx {
			return uint16(i)
		}
	}
	return p.Append(&ConstantClass{NameIndex: nameIdx})
}

// EnsureNameAndType returns the index of a NameAndType constant for
// (name, desc), appending it (and its Utf8 parts) if absent.
func (p *ConstantPool) EnsureNameAndType(name, desc string) uint16 {
	nameIdx := p.EnsureUtf8(name)
	descIdx := p.EnsureUtf8(desc)
	for i, e := range p.entries {
		if nt, ok := e.(*ConstantNameAndType); ok && nt.NameIndex == nameIdx && nt.DescriptorIndex == descIdx {
			return uint16(i)
		}
	}
	return p.Append(&ConstantNameAndType{NameIndex: nameIdx, DescriptorIndex: descIdx})
}

// EnsureFieldref returns the index of a Fieldref constant for
// owner.name:desc, appending it (and its parts) if absent.
func (p *ConstantPool) EnsureFieldref(owner, name, desc string) uint16 {
	classIdx := p.EnsureClass(owner)
	natIdx := p.EnsureNameAndType(name, desc)
	for i, e := range p.entries {
		if fr, ok := e.(*ConstantFieldref); ok && fr.ClassIndex == classIdx && fr.NameAndTypeIndex == natIdx {
			return uint16(i)
		}
	}
	return p.Append(&ConstantFieldref{ClassIndex: classIdx, NameAndTypeIndex: natIdx})
}

// EnsureMethodref returns the index of a Methodref constant for
// owner.name(desc), appending it (and its parts) if absent.
func (p *ConstantPool) EnsureMethodref(owner, name, desc string) uint16 {
	classIdx := p.EnsureClass(owner)
	natIdx := p.EnsureNameAndType(name, desc)
	for i, e := range p.entries {
		if mr, ok := e.(*ConstantMethodref); ok && mr.ClassIndex == classIdx && mr.NameAndTypeIndex == natIdx {
			return uint16(i)
		}
	}
	return p.Append(&ConstantMethodref{ClassIndex: classIdx, NameAndTypeIndex: natIdx})
}

// parseConstantPool reads constant_pool_count-1 entries from r.
func parseConstantPool(r io.Reader, count uint16) (*ConstantPool, error) {
	pool := &ConstantPool{entries: make([]ConstantPoolEntry, count)}

	for i := uint16(1); i < count; i++ {
		var tag uint8
		if err := binary.Read(r, binary.BigEndian, &tag); err != nil {
			return nil, errors.Wrapf(err, "reading constant pool tag at index %d", i)
		}

		switch tag {
		case TagUtf8:
			var length uint16
			if err := binary.Read(r, binary.BigEndian, &length); err != nil {
				return nil, errors.Wrapf(err, "reading Utf8 length at index %d", i)
			}
			raw := make([]byte, length)
			if _, err := io.ReadFull(r, raw); err != nil {
				return nil, errors.Wrapf(err, "reading Utf8 bytes at index %d", i)
			}
			pool.entries[i] = &ConstantUtf8{Value: string(raw)}

		case TagInteger:
			var v int32
			if err := binary.Read(r, binary.BigEndian, &v); err != nil {
				return nil, errors.Wrapf(err, "reading Integer at index %d", i)
			}
			pool.entries[i] = &ConstantInteger{Value: v}

		case TagFloat:
			var bits uint32
			if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
				return nil, errors.Wrapf(err, "reading Float at index %d", i)
			}
			pool.entries[i] = &ConstantFloat{Value: math.Float32frombits(bits)}

		case TagLong:
			var v int64
			if err := binary.Read(r, binary.BigEndian, &v); err != nil {
				return nil, errors.Wrapf(err, "reading Long at index %d", i)
			}
			pool.entries[i] = &ConstantLong{Value: v}
			i++

		case TagDouble:
			var bits uint64
			if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
				return nil, errors.Wrapf(err, "reading Double at index %d", i)
			}
			pool.entries[i] = &ConstantDouble{Value: math.Float64frombits(bits)}
			i++

		case TagClass:
			var nameIndex uint16
			if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
				return nil, errors.Wrapf(err, "reading Class at index %d", i)
			}
			pool.entries[i] = &ConstantClass{NameIndex: nameIndex}

		case TagString:
			var stringIndex uint16
			if err := binary.Read(r, binary.BigEndian, &stringIndex); err != nil {
				return nil, errors.Wrapf(err, "reading String at index %d", i)
			}
			pool.entries[i] = &ConstantString{StringIndex: stringIndex}

		case TagFieldref:
			var classIndex, natIndex uint16
			if err := binary.Read(r, binary.BigEndian, &classIndex); err != nil {
				return nil, errors.Wrapf(err, "reading Fieldref class_index at index %d", i)
			}
			if err := binary.Read(r, binary.BigEndian, &natIndex); err != nil {
				return nil, errors.Wrapf(err, "reading Fieldref name_and_type_index at index %d", i)
			}
			pool.entries[i] = &ConstantFieldref{ClassIndex: classIndex, NameAndTypeIndex: natIndex}

		case TagMethodref:
			var classIndex, natIndex uint16
			if err := binary.Read(r, binary.BigEndian, &classIndex); err != nil {
				return nil, errors.Wrapf(err, "reading Methodref class_index at index %d", i)
			}
			if err := binary.Read(r, binary.BigEndian, &natIndex); err != nil {
				return nil, errors.Wrapf(err, "reading Methodref name_and_type_index at index %d", i)
			}
			pool.entries[i] = &ConstantMethodref{ClassIndex: classIndex, NameAndTypeIndex: natIndex}

		case TagInterfaceMethodref:
			var classIndex, natIndex uint16
			if err := binary.Read(r, binary.BigEndian, &classIndex); err != nil {
				return nil, errors.Wrapf(err, "reading InterfaceMethodref class_index at index %d", i)
			}
			if err := binary.Read(r, binary.BigEndian, &natIndex); err != nil {
				return nil, errors.Wrapf(err, "reading InterfaceMethodref name_and_type_index at index %d", i)
			}
			pool.entries[i] = &ConstantInterfaceMethodref{ClassIndex: classIndex, NameAndTypeIndex: natIndex}

		case TagNameAndType:
			var nameIndex, descIndex uint16
			if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
				return nil, errors.Wrapf(err, "reading NameAndType name_index at index %d", i)
			}
			if err := binary.Read(r, binary.BigEndian, &descIndex); err != nil {
				return nil, errors.Wrapf(err, "reading NameAndType descriptor_index at index %d", i)
			}
			pool.entries[i] = &ConstantNameAndType{NameIndex: nameIndex, DescriptorIndex: descIndex}

		case TagMethodHandle:
			var refKind uint8
			var refIndex uint16
			if err := binary.Read(r, binary.BigEndian, &refKind); err != nil {
				return nil, errors.Wrapf(err, "reading MethodHandle reference_kind at index %d", i)
			}
			if err := binary.Read(r, binary.BigEndian, &refIndex); err != nil {
				return nil, errors.Wrapf(err, "reading MethodHandle reference_index at index %d", i)
			}
			pool.entries[i] = &ConstantMethodHandle{ReferenceKind: refKind, ReferenceIndex: refIndex}

		case TagMethodType:
			var descIndex uint16
			if err := binary.Read(r, binary.BigEndian, &descIndex); err != nil {
				return nil, errors.Wrapf(err, "reading MethodType at index %d", i)
			}
			pool.entries[i] = &ConstantMethodType{DescriptorIndex: descIndex}

		case TagDynamic:
			var bsmIndex, natIndex uint16
			if err := binary.Read(r, binary.BigEndian, &bsmIndex); err != nil {
				return nil, errors.Wrapf(err, "reading Dynamic bootstrap_method_attr_index at index %d", i)
			}
			if err := binary.Read(r, binary.BigEndian, &natIndex); err != nil {
				return nil, errors.Wrapf(err, "reading Dynamic name_and_type_index at index %d", i)
			}
			pool.entries[i] = &ConstantDynamic{BootstrapMethodAttrIndex: bsmIndex, NameAndTypeIndex: natIndex}

		case TagInvokeDynamic:
			var bsmIndex, natIndex uint16
			if err := binary.Read(r, binary.BigEndian, &bsmIndex); err != nil {
				return nil, errors.Wrapf(err, "reading InvokeDynamic bootstrap_method_attr_index at index %d", i)
			}
			if err := binary.Read(r, binary.BigEndian, &natIndex); err != nil {
				return nil, errors.Wrapf(err, "reading InvokeDynamic name_and_type_index at index %d", i)
			}
			pool.entries[i] = &ConstantInvokeDynamic{BootstrapMethodAttrIndex: bsmIndex, NameAndTypeIndex: natIndex}

		default:
			return nil, errors.Errorf("unknown constant pool tag %d at index %d", tag, i)
		}
	}

	return pool, nil
}

// writeConstantPool emits the constant pool in wire format, including the
// leading constant_pool_count.
func writeConstantPool(w *byteWriter, p *ConstantPool) error {
	w.u16(uint16(p.Len()))
	for i := 1; i < len(p.entries); i++ {
		e := p.entries[i]
		if e == nil {
			continue // second slot of a Long/Double
		}
		w.u8(e.Tag())
		switch c := e.(type) {
		case *ConstantUtf8:
			raw := []byte(c.Value)
			w.u16(uint16(len(raw)))
			w.bytes(raw)
		case *ConstantInteger:
			w.u32(uint32(c.Value))
		case *ConstantFloat:
			w.u32(math.Float32bits(c.Value))
		case *ConstantLong:
			w.u64(uint64(c.Value))
		case *ConstantDouble:
			w.u64(math.Float64bits(c.Value))
		case *ConstantClass:
			w.u16(c.NameIndex)
		case *ConstantString:
			w.u16(c.StringIndex)
		case *ConstantFieldref:
			w.u16(c.ClassIndex)
			w.u16(c.NameAndTypeIndex)
		case *ConstantMethodref:
			w.u16(c.ClassIndex)
			w.u16(c.NameAndTypeIndex)
		case *ConstantInterfaceMethodref:
			w.u16(c.ClassIndex)
			w.u16(c.NameAndTypeIndex)
		case *ConstantNameAndType:
			w.u16(c.NameIndex)
			w.u16(c.DescriptorIndex)
		case *ConstantMethodHandle:
			w.u8(c.ReferenceKind)
			w.u16(c.ReferenceIndex)
		case *ConstantMethodType:
			w.u16(c.DescriptorIndex)
		case *ConstantDynamic:
			w.u16(c.BootstrapMethodAttrIndex)
			w.u16(c.NameAndTypeIndex)
		case *ConstantInvokeDynamic:
			w.u16(c.BootstrapMethodAttrIndex)
			w.u16(c.NameAndTypeIndex)
		default:
			return errors.Errorf("unknown constant pool entry type at index %d", i)
		}
	}
	return w.err
}
