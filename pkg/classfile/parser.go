package classfile

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const classMagic = 0xCAFEBABE

// ParseError wraps any failure to decode class-file bytes. It is always
// fatal to the caller's enclosing operation (spec.md §7).
type ParseError struct {
	cause error
}

func (e *ParseError) Error() string { return "parsing class file: " + e.cause.Error() }
func (e *ParseError) Unwrap() error { return e.cause }

// Parse decodes a .class file's bytes into a ClassInfo. It mirrors
// daimatz/gojvm's pkg/classfile.Parse field-for-field but additionally
// decodes every method's Code attribute into an instruction stream and
// disassembly, and keeps InnerClasses entries, since the detector and
// patcher need both.
func Parse(data []byte) (*ClassInfo, error) {
	r := bytes.NewReader(data)
	ci, err := parse(r)
	if err != nil {
		return nil, &ParseError{cause: err}
	}
	return ci, nil
}

func parse(r io.Reader) (*ClassInfo, error) {
	ci := &ClassInfo{}

	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, errors.Wrap(err, "reading magic number")
	}
	if magic != classMagic {
		return nil, errors.Errorf("invalid magic number: 0x%X (expected 0xCAFEBABE)", magic)
	}

	if err := binary.Read(r, binary.BigEndian, &ci.MinorVersion); err != nil {
		return nil, errors.Wrap(err, "reading minor version")
	}
	if err := binary.Read(r, binary.BigEndian, &ci.MajorVersion); err != nil {
		return nil, errors.Wrap(err, "reading major version")
	}

	var cpCount uint16
	if err := binary.Read(r, binary.BigEndian, &cpCount); err != nil {
		return nil, errors.Wrap(err, "reading constant pool count")
	}
	pool, err := parseConstantPool(r, cpCount)
	if err != nil {
		return nil, errors.Wrap(err, "parsing constant pool")
	}
	ci.Pool = pool

	if err := binary.Read(r, binary.BigEndian, &ci.AccessFlags); err != nil {
		return nil, errors.Wrap(err, "reading access flags")
	}

	var thisClass, superClass uint16
	if err := binary.Read(r, binary.BigEndian, &thisClass); err != nil {
		return nil, errors.Wrap(err, "reading this_class")
	}
	if ci.ThisClass, err = pool.ClassName(thisClass); err != nil {
		return nil, errors.Wrap(err, "resolving this_class")
	}
	if err := binary.Read(r, binary.BigEndian, &superClass); err != nil {
		return nil, errors.Wrap(err, "reading super_class")
	}
	if superClass != 0 {
		if ci.SuperClass, err = pool.ClassName(superClass); err != nil {
			return nil, errors.Wrap(err, "resolving super_class")
		}
	}

	var interfacesCount uint16
	if err := binary.Read(r, binary.BigEndian, &interfacesCount); err != nil {
		return nil, errors.Wrap(err, "reading interfaces count")
	}
	for i := uint16(0); i < interfacesCount; i++ {
		var idx uint16
		if err := binary.Read(r, binary.BigEndian, &idx); err != nil {
			return nil, errors.Wrapf(err, "reading interface %d", i)
		}
		name, err := pool.ClassName(idx)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving interface %d", i)
		}
		ci.Interfaces = append(ci.Interfaces, name)
	}

	var fieldsCount uint16
	if err := binary.Read(r, binary.BigEndian, &fieldsCount); err != nil {
		return nil, errors.Wrap(err, "reading fields count")
	}
	if ci.Fields, err = parseFields(r, pool, fieldsCount); err != nil {
		return nil, errors.Wrap(err, "parsing fields")
	}

	var methodsCount uint16
	if err := binary.Read(r, binary.BigEndian, &methodsCount); err != nil {
		return nil, errors.Wrap(err, "reading methods count")
	}
	if ci.Methods, err = parseMethods(r, pool, methodsCount); err != nil {
		return nil, errors.Wrap(err, "parsing methods")
	}

	var classAttrCount uint16
	if err := binary.Read(r, binary.BigEndian, &classAttrCount); err != nil {
		return nil, errors.Wrap(err, "reading class attributes count")
	}
	for i := uint16(0); i < classAttrCount; i++ {
		attr, err := readRawAttribute(r, pool)
		if err != nil {
			return nil, errors.Wrapf(err, "reading class attribute %d", i)
		}
		if attr.Name == "InnerClasses" {
			refs, err := parseInnerClasses(attr.Data, pool)
			if err != nil {
				return nil, errors.Wrap(err, "parsing InnerClasses attribute")
			}
			ci.InnerClasses = refs
		}
	}

	return ci, nil
}

func parseFields(r io.Reader, pool *ConstantPool, count uint16) ([]*FieldInfo, error) {
	fields := make([]*FieldInfo, count)
	for i := uint16(0); i < count; i++ {
		f, err := parseMember(r, pool)
		if err != nil {
			return nil, errors.Wrapf(err, "field %d", i)
		}
		fields[i] = &FieldInfo{Name: f.name, Descriptor: f.desc, AccessFlags: f.access, Attributes: f.attrs}
	}
	return fields, nil
}

type rawMember struct {
	access uint16
	name   string
	desc   string
	attrs  []AttributeInfo
}

func parseMember(r io.Reader, pool *ConstantPool) (*rawMember, error) {
	var access, nameIdx, descIdx, attrCount uint16
	if err := binary.Read(r, binary.BigEndian, &access); err != nil {
		return nil, errors.Wrap(err, "reading access flags")
	}
	if err := binary.Read(r, binary.BigEndian, &nameIdx); err != nil {
		return nil, errors.Wrap(err, "reading name index")
	}
	if err := binary.Read(r, binary.BigEndian, &descIdx); err != nil {
		return nil, errors.Wrap(err, "reading descriptor index")
	}
	if err := binary.Read(r, binary.BigEndian, &attrCount); err != nil {
		return nil, errors.Wrap(err, "reading attributes count")
	}
	name, err := pool.Utf8(nameIdx)
	if err != nil {
		return nil, errors.Wrap(err, "resolving name")
	}
	desc, err := pool.Utf8(descIdx)
	if err != nil {
		return nil, errors.Wrap(err, "resolving descriptor")
	}
	attrs := make([]AttributeInfo, 0, attrCount)
	for i := uint16(0); i < attrCount; i++ {
		attr, err := readRawAttribute(r, pool)
		if err != nil {
			return nil, errors.Wrapf(err, "attribute %d", i)
		}
		attrs = append(attrs, attr)
	}
	return &rawMember{access: access, name: name, desc: desc, attrs: attrs}, nil
}

func parseMethods(r io.Reader, pool *ConstantPool, count uint16) ([]*MethodInfo, error) {
	methods := make([]*MethodInfo, count)
	for i := uint16(0); i < count; i++ {
		m, err := parseMember(r, pool)
		if err != nil {
			return nil, errors.Wrapf(err, "method %d", i)
		}
		mi := &MethodInfo{Name: m.name, Descriptor: m.desc, AccessFlags: m.access}
		var codeAttr *AttributeInfo
		for _, a := range m.attrs {
			if a.Name == "Code" {
				codeAttr = &a
				continue
			}
			mi.Attributes = append(mi.Attributes, a)
		}
		if codeAttr != nil {
			if err := decodeCodeAttribute(mi, codeAttr.Data, pool); err != nil {
				return nil, errors.Wrapf(err, "method %d Code attribute", i)
			}
			mi.rawCode = codeAttr.Data
			mi.Disassembly = RenderDisassembly(mi.Instructions)
		}
		methods[i] = mi
	}
	return methods, nil
}

// readRawAttribute reads one attribute_info entry without interpreting its
// payload; callers that need to decode specific attributes (Code,
// InnerClasses) do so afterwards.
func readRawAttribute(r io.Reader, pool *ConstantPool) (AttributeInfo, error) {
	var nameIdx uint16
	if err := binary.Read(r, binary.BigEndian, &nameIdx); err != nil {
		return AttributeInfo{}, errors.Wrap(err, "reading attribute name index")
	}
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return AttributeInfo{}, errors.Wrap(err, "reading attribute length")
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return AttributeInfo{}, errors.Wrap(err, "reading attribute data")
	}
	name, err := pool.Utf8(nameIdx)
	if err != nil {
		return AttributeInfo{}, errors.Wrap(err, "resolving attribute name")
	}
	return AttributeInfo{Name: name, Data: data}, nil
}

// decodeCodeAttribute decodes a Code attribute's payload (already framed by
// readRawAttribute) into the method's instruction stream, exception
// handlers and max_stack/max_locals.
func decodeCodeAttribute(mi *MethodInfo, data []byte, pool *ConstantPool) error {
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.BigEndian, &mi.MaxStack); err != nil {
		return errors.Wrap(err, "reading max_stack")
	}
	if err := binary.Read(r, binary.BigEndian, &mi.MaxLocals); err != nil {
		return errors.Wrap(err, "reading max_locals")
	}
	var codeLen uint32
	if err := binary.Read(r, binary.BigEndian, &codeLen); err != nil {
		return errors.Wrap(err, "reading code_length")
	}
	code := make([]byte, codeLen)
	if _, err := io.ReadFull(r, code); err != nil {
		return errors.Wrap(err, "reading code")
	}
	instrs, err := decodeInstructions(code, pool)
	if err != nil {
		return errors.Wrap(err, "decoding instructions")
	}
	mi.Instructions = instrs
	offsetToIndex := make(map[int]int, len(instrs))
	for idx, in := range instrs {
		offsetToIndex[in.Offset] = idx
	}
	// codeEnd is used as the instruction index one-past-the-end for
	// exception handler ranges that close at the method's tail.
	codeEnd := len(instrs)

	var handlerCount uint16
	if err := binary.Read(r, binary.BigEndian, &handlerCount); err != nil {
		return errors.Wrap(err, "reading exception_table_length")
	}
	for i := uint16(0); i < handlerCount; i++ {
		var startPC, endPC, handlerPC, catchTypeIdx uint16
		if err := binary.Read(r, binary.BigEndian, &startPC); err != nil {
			return errors.Wrapf(err, "reading exception handler %d start_pc", i)
		}
		if err := binary.Read(r, binary.BigEndian, &endPC); err != nil {
			return errors.Wrapf(err, "reading exception handler %d end_pc", i)
		}
		if err := binary.Read(r, binary.BigEndian, &handlerPC); err != nil {
			return errors.Wrapf(err, "reading exception handler %d handler_pc", i)
		}
		if err := binary.Read(r, binary.BigEndian, &catchTypeIdx); err != nil {
			return errors.Wrapf(err, "reading exception handler %d catch_type", i)
		}
		var catchType string
		if catchTypeIdx != 0 {
			catchType, err = pool.ClassName(catchTypeIdx)
			if err != nil {
				return errors.Wrapf(err, "resolving exception handler %d catch_type", i)
			}
		}
		eh := ExceptionHandler{
			StartPC:   resolveOffsetOrEnd(offsetToIndex, int(startPC), codeEnd),
			EndPC:     resolveOffsetOrEnd(offsetToIndex, int(endPC), codeEnd),
			HandlerPC: resolveOffsetOrEnd(offsetToIndex, int(handlerPC), codeEnd),
			CatchType: catchType,
		}
		mi.ExceptionHandlers = append(mi.ExceptionHandlers, eh)
	}

	var attrCount uint16
	if err := binary.Read(r, binary.BigEndian, &attrCount); err != nil {
		return errors.Wrap(err, "reading code attributes count")
	}
	for i := uint16(0); i < attrCount; i++ {
		attr, err := readRawAttribute(r, pool)
		if err != nil {
			return errors.Wrapf(err, "code attribute %d", i)
		}
		mi.CodeAttributes = append(mi.CodeAttributes, attr)
	}
	return nil
}

func resolveOffsetOrEnd(offsetToIndex map[int]int, offset, end int) int {
	if idx, ok := offsetToIndex[offset]; ok {
		return idx
	}
	return end
}

func parseInnerClasses(data []byte, pool *ConstantPool) ([]InnerClassRef, error) {
	r := bytes.NewReader(data)
	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, errors.Wrap(err, "reading number_of_classes")
	}
	refs := make([]InnerClassRef, 0, count)
	for i := uint16(0); i < count; i++ {
		var innerIdx, outerIdx, innerNameIdx, flags uint16
		if err := binary.Read(r, binary.BigEndian, &innerIdx); err != nil {
			return nil, errors.Wrapf(err, "entry %d inner_class_info_index", i)
		}
		if err := binary.Read(r, binary.BigEndian, &outerIdx); err != nil {
			return nil, errors.Wrapf(err, "entry %d outer_class_info_index", i)
		}
		if err := binary.Read(r, binary.BigEndian, &innerNameIdx); err != nil {
			return nil, errors.Wrapf(err, "entry %d inner_name_index", i)
		}
		if err := binary.Read(r, binary.BigEndian, &flags); err != nil {
			return nil, errors.Wrapf(err, "entry %d inner_class_access_flags", i)
		}
		var inner, outer, innerName string
		var err error
		if innerIdx != 0 {
			if inner, err = pool.ClassName(innerIdx); err != nil {
				return nil, errors.Wrapf(err, "entry %d resolving inner_class_info", i)
			}
		}
		if outerIdx != 0 {
			if outer, err = pool.ClassName(outerIdx); err != nil {
				return nil, errors.Wrapf(err, "entry %d resolving outer_class_info", i)
			}
		}
		if innerNameIdx != 0 {
			if innerName, err = pool.Utf8(innerNameIdx); err != nil {
				return nil, errors.Wrapf(err, "entry %d resolving inner_name", i)
			}
		}
		refs = append(refs, InnerClassRef{
			InnerName:       inner,
			OuterName:       outer,
			InnerSimpleName: innerName,
			AccessFlags:     flags,
		})
	}
	return refs, nil
}
