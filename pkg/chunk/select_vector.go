package chunk

// SelectVector lists row indexes of a batch. An empty SelVec selects
// rows in order.
type SelectVector struct {
	SelVec []int
}

func NewSelectVector(count int) *SelectVector {
	vec := &SelectVector{}
	vec.Init(count)
	return vec
}

func IncrSelectVector(count int) *SelectVector {
	vec := NewSelectVector(count)
	for i := 0; i < count; i++ {
		vec.SetIndex(i, i)
	}
	return vec
}

func (svec *SelectVector) Invalid() bool {
	return len(svec.SelVec) == 0
}

func (svec *SelectVector) Init(cnt int) {
	svec.SelVec = make([]int, cnt)
}

// Grow keeps at least cnt slots. It never shrinks.
func (svec *SelectVector) Grow(cnt int) {
	if len(svec.SelVec) >= cnt {
		return
	}
	data := make([]int, cnt)
	copy(data, svec.SelVec)
	svec.SelVec = data
}

func (svec *SelectVector) GetIndex(idx int) int {
	if svec.Invalid() {
		return idx
	} else {
		return svec.SelVec[idx]
	}
}

func (svec *SelectVector) SetIndex(idx int, index int) {
	svec.SelVec[idx] = index
}

func (svec *SelectVector) Slice(count int) []int {
	return svec.SelVec[:count]
}
