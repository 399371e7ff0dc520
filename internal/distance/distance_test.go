// Copyright 2022 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package distance

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFloatsRoundTrip(t *testing.T) {
	v := []float32{1, -2.5, 0, 3.25}
	s := EncodeFloats(v)
	require.Equal(t, v, decodeFloats(s))
}

func TestCosineOnFloatBitsIdenticalVectorsScoreOne(t *testing.T) {
	v := EncodeFloats([]float32{1, 2, 3})
	a := VectorData{Quantized: &v}
	m := CosineOnFloatBits{}
	res, err := m.Calculate(a, a, false)
	require.NoError(t, err)
	require.InDelta(t, 1.0, res.Float(), 1e-6)
}

func TestCosineOnFloatBitsOrthogonalVectorsScoreZero(t *testing.T) {
	a := EncodeFloats([]float32{1, 0})
	b := EncodeFloats([]float32{0, 1})
	va := VectorData{Quantized: &a}
	vb := VectorData{Quantized: &b}
	res, err := (CosineOnFloatBits{}).Calculate(va, vb, false)
	require.NoError(t, err)
	require.InDelta(t, 0.0, res.Float(), 1e-6)
}

func TestCosineOnFloatBitsZeroMagnitudeIsZero(t *testing.T) {
	zero := EncodeFloats([]float32{0, 0, 0})
	other := EncodeFloats([]float32{1, 2, 3})
	vz := VectorData{Quantized: &zero}
	vo := VectorData{Quantized: &other}
	res, err := (CosineOnFloatBits{}).Calculate(vz, vo, false)
	require.NoError(t, err)
	require.Equal(t, float32(0), res.Float())
}

func TestCloserPrefersHigherScore(t *testing.T) {
	require.True(t, Closer(FromFloat32(0.9), FromFloat32(0.1)))
	require.False(t, Closer(FromFloat32(0.1), FromFloat32(0.9)))
}

func TestMetricResultTagValueRoundTrip(t *testing.T) {
	m := FromFloat32(0.42)
	tag, val := m.GetTagAndValue()
	got := MetricResultFromTagValue(tag, val)
	require.Equal(t, m.Float(), got.Float())
}
