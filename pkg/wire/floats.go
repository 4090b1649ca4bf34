package wire

import (
	"io"
	"math"
	"strings"
)

func jsonReaderFromBytes(b []byte) io.Reader { return strings.NewReader(string(b)) }

func nan() float64     { return math.NaN() }
func posInf() float64  { return math.Inf(1) }
func negInf() float64  { return math.Inf(-1) }
func negZero() float64 { return math.Copysign(0, -1) }
