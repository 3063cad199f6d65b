package util

// Bitmap is a validity mask. An empty Bits means every row is valid.
type Bitmap struct {
	Bits []uint8
}

func (bm *Bitmap) Data() []uint8 {
	return bm.Bits
}

func (bm *Bitmap) Init(count int) {
	cnt := EntryCount(count)
	bm.Bits = make([]uint8, cnt)
	for i := range bm.Bits {
		bm.Bits[i] = 0xFF
	}
}

func (bm *Bitmap) Invalid() bool {
	return len(bm.Bits) == 0
}

func (bm *Bitmap) GetEntry(eIdx uint64) uint8 {
	if bm.Invalid() {
		return 0xFF
	}
	return bm.Bits[eIdx]
}

func GetEntryIndex(idx uint64) (uint64, uint64) {
	return idx / 8, idx % 8
}

func EntryIsSet(e uint8, pos uint64) bool {
	return e&(1<<pos) != 0
}

func (bm *Bitmap) RowIsValid(idx uint64) bool {
	if bm.Invalid() {
		return true
	}
	eIdx, pos := GetEntryIndex(idx)
	return EntryIsSet(bm.Bits[eIdx], pos)
}

func (bm *Bitmap) SetValid(ridx uint64) {
	if bm.Invalid() {
		return
	}
	eIdx, pos := GetEntryIndex(ridx)
	bm.Bits[eIdx] |= 1 << pos
}

// SetInvalid clears the bit of ridx. cnt is the row capacity used to
// materialize the mask when it is still implicit.
func (bm *Bitmap) SetInvalid(ridx uint64, cnt int) {
	if bm.Invalid() {
		bm.Init(cnt)
	}
	eIdx, pos := GetEntryIndex(ridx)
	bm.Bits[eIdx] &= ^(1 << pos)
}

func (bm *Bitmap) Set(ridx uint64, valid bool, cnt int) {
	if valid {
		bm.SetValid(ridx)
	} else {
		bm.SetInvalid(ridx, cnt)
	}
}

func (bm *Bitmap) Reset() {
	bm.Bits = nil
}

func EntryCount(cnt int) int {
	return (cnt + 7) / 8
}

func (bm *Bitmap) AllValid() bool {
	return bm.Invalid()
}

func (bm *Bitmap) CopyFrom(other *Bitmap, count int) {
	if other.AllValid() {
		bm.Bits = nil
	} else {
		eCnt := EntryCount(count)
		bm.Bits = make([]uint8, eCnt)
		copy(bm.Bits, other.Bits[:eCnt])
	}
}

// Resize grows the mask to cnt rows. New rows are valid.
func (bm *Bitmap) Resize(old int, cnt int) {
	if cnt <= old || bm.Invalid() {
		return
	}
	ncnt := EntryCount(cnt)
	if ncnt <= len(bm.Bits) {
		return
	}
	newData := make([]uint8, ncnt)
	copy(newData, bm.Bits)
	for i := len(bm.Bits); i < ncnt; i++ {
		newData[i] = 0xFF
	}
	bm.Bits = newData
}
