package classfile

import "strconv"

func itoa(n int) string       { return strconv.Itoa(n) }
func itoa64(n int64) string   { return strconv.FormatInt(n, 10) }
func ftoa(f float64) string   { return strconv.FormatFloat(f, 'g', -1, 64) }
