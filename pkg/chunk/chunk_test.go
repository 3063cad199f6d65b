package chunk

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/aggrht/pkg/common"
)

func Test_vectorValues(t *testing.T) {
	types := []common.LType{
		common.BooleanType(),
		common.IntegerType(),
		common.BigintType(),
		common.DoubleType(),
		common.VarcharType(),
		common.DecimalType(10, 2),
	}
	vals := []*Value{
		BooleanValue(true),
		IntegerValue(-5),
		BigintValue(1 << 40),
		DoubleValue(2.5),
		VarcharValue("abc"),
		DecimalValue(1234, 10, 2),
	}
	c := NewChunk(types, 4)
	for i, val := range vals {
		c.SetValue(i, 0, val)
		c.SetValue(i, 1, NullValue(types[i]))
	}
	c.SetCard(2)
	for i, val := range vals {
		got := c.GetValue(i, 0)
		assert.True(t, val.Equal(got), "col %d", i)
		assert.True(t, c.GetValue(i, 1).IsNull)
	}
	assert.Equal(t, "12.34", c.GetValue(5, 0).String())

	buf := &bytes.Buffer{}
	c.PrintTo(buf, 1)
	assert.Equal(t, "true\t-5\t1099511627776\t2.5\tabc\t12.34\n", buf.String())
}

func Test_vectorCopy(t *testing.T) {
	src := NewFlatVector(common.BigintType(), 8)
	for i := 0; i < 8; i++ {
		src.SetValue(i, BigintValue(int64(i)))
	}
	src.SetNull(3, true)

	dst := NewFlatVector(common.BigintType(), 2)
	dst.Copy(src, 2, 0, 4)
	assert.Equal(t, 4, dst.Cap())
	assert.Equal(t, int64(2), dst.GetValue(0).I64)
	assert.True(t, dst.IsNull(1))
	assert.Equal(t, int64(5), dst.GetValue(3).I64)

	sdst := NewFlatVector(common.VarcharType(), 2)
	ssrc := NewFlatVector(common.VarcharType(), 3)
	ssrc.SetValue(0, VarcharValue("x"))
	ssrc.SetValue(1, VarcharValue("y"))
	ssrc.SetNull(2, true)
	sdst.CopySel(ssrc, []int{2, 1, 0}, 0, 3)
	assert.True(t, sdst.IsNull(0))
	assert.Equal(t, "y", sdst.GetValue(1).Str)
	assert.Equal(t, "x", sdst.GetValue(2).Str)
}

func Test_chunkCopyRange(t *testing.T) {
	types := []common.LType{common.BigintType(), common.VarcharType()}
	src := NewChunk(types, 10)
	for i := 0; i < 10; i++ {
		src.SetValue(0, i, BigintValue(int64(i)))
		src.SetValue(1, i, VarcharValue(string(rune('a'+i))))
	}
	src.SetCard(10)

	dst := NewChunk(types, 2)
	dst.CopyRange(src, 6, 4)
	require.Equal(t, 4, dst.Card())
	assert.Equal(t, int64(6), dst.GetValue(0, 0).I64)
	assert.Equal(t, "j", dst.GetValue(1, 3).Str)

	dst.Append(src, []int{0, 1}, 2)
	assert.Equal(t, 6, dst.Card())
	assert.Equal(t, "b", dst.GetValue(1, 5).Str)

	view := &Chunk{}
	view.ReferenceColumns(src, []int{1})
	assert.Equal(t, 1, view.ColumnCount())
	assert.Equal(t, 10, view.Card())
	assert.Equal(t, "c", view.GetValue(0, 2).Str)
}

func Test_chunkHash(t *testing.T) {
	types := []common.LType{common.BigintType(), common.VarcharType()}
	c := NewChunk(types, 4)
	c.SetValue(0, 0, BigintValue(1))
	c.SetValue(1, 0, VarcharValue("a"))
	c.SetValue(0, 1, BigintValue(1))
	c.SetValue(1, 1, VarcharValue("a"))
	c.SetValue(0, 2, BigintValue(1))
	c.SetValue(1, 2, VarcharValue("b"))
	c.SetValue(0, 3, NullValue(common.BigintType()))
	c.SetValue(1, 3, VarcharValue("a"))
	c.SetCard(4)

	hashes := make([]uint64, 4)
	c.Hash(hashes)
	assert.Equal(t, hashes[0], hashes[1])
	assert.NotEqual(t, hashes[0], hashes[2])
	assert.NotEqual(t, hashes[0], hashes[3])
}

func Test_selectVector(t *testing.T) {
	sel := IncrSelectVector(4)
	assert.Equal(t, 3, sel.GetIndex(3))
	sel.Grow(2)
	assert.Len(t, sel.SelVec, 4)
	sel.Grow(8)
	assert.Len(t, sel.SelVec, 8)
	assert.Equal(t, 2, sel.GetIndex(2))
	assert.Equal(t, []int{0, 1}, sel.Slice(2))
	empty := &SelectVector{}
	assert.Equal(t, 7, empty.GetIndex(7))
}
