package classfile

// FindMethod returns the method named name with the given descriptor, or
// nil. Mirrors daimatz/gojvm's ClassFile.FindMethod.
func (c *ClassInfo) FindMethod(name, descriptor string) *MethodInfo {
	for _, m := range c.Methods {
		if m.Name == name && m.Descriptor == descriptor {
			return m
		}
	}
	return nil
}

// FindMethodByName returns the first method named name regardless of
// descriptor, or nil.
func (c *ClassInfo) FindMethodByName(name string) *MethodInfo {
	for _, m := range c.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// FindField returns the field named name, or nil.
func (c *ClassInfo) FindField(name string) *FieldInfo {
	for _, f := range c.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// ClinitMethod returns the class's static initializer, if any.
func (c *ClassInfo) ClinitMethod() *MethodInfo {
	return c.FindMethod("<clinit>", "()V")
}

// RemoveField removes the field named name, reporting whether it was
// present.
func (c *ClassInfo) RemoveField(name string) bool {
	for i, f := range c.Fields {
		if f.Name == name {
			c.Fields = append(c.Fields[:i], c.Fields[i+1:]...)
			return true
		}
	}
	return false
}

// SetInstructions replaces the method's instruction stream (and optionally
// its exception handlers) and marks the Code attribute dirty so the writer
// re-encodes it instead of passing the original bytes through.
func (m *MethodInfo) SetInstructions(instrs []*InstructionInfo, handlers []ExceptionHandler) {
	m.Instructions = instrs
	m.ExceptionHandlers = handlers
	m.CodeDirty = true
	m.Disassembly = RenderDisassembly(instrs)
}

// HasInnerClass reports whether an InnerClasses entry for innerName already
// exists.
func (c *ClassInfo) HasInnerClass(innerName string) bool {
	for _, ic := range c.InnerClasses {
		if ic.InnerName == innerName {
			return true
		}
	}
	return false
}
