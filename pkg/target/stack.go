package target

// MaxStackDepth bounds how many frames a backtrace may record.
const MaxStackDepth = 64

// minStackAddr guards the walk against chasing a corrupted frame pointer
// into unmapped or kernel-reserved low memory.
const minStackAddr = 64 * 1024

// Backtrace is a thread's call chain reconstructed from its frame-pointer
// chain, innermost frame first. Unused trailing slots stay zero; zero is a
// sentinel, never a valid return address.
type Backtrace [MaxStackDepth]uint64

// PCs returns the recorded return addresses up to the first unused slot.
func (bt *Backtrace) PCs() []uint64 {
	for i, addr := range bt {
		if addr == 0 {
			return bt[:i]
		}
	}
	return bt[:]
}

// WalkStack reconstructs the backtrace of one thread by chasing its saved
// frame pointers through the debuggee's memory.
//
// This is classic frame-pointer unwinding done remotely: by ABI convention
// a frame's saved caller frame pointer lives at *fp and its return address
// at *(fp+8). Because every dereference is a round trip into a possibly
// dying or corrupted debuggee, any failed read truncates the result instead
// of failing the walk; a short backtrace is always valid, corruption never
// crashes the walker.
//
// The walk stops when the frame pointer is zero, repeats the previous
// frame's value (a self-referential chain), or drops below minStackAddr.
func WalkStack(ch Channel, snap *ThreadSnapshot) Backtrace {
	var bt Backtrace

	fp := snap.FP
	if fp == 0 {
		// The thread never entered a frame-pointer-preserving function.
		return bt
	}

	prev := uint64(0)
	for idx := 0; idx < MaxStackDepth; idx++ {
		if fp == prev || fp == 0 || fp < minStackAddr {
			break
		}
		prev = fp

		ret, err := readUint64(ch, fp+8)
		if err != nil {
			return bt
		}
		bt[idx] = ret

		next, err := readUint64(ch, fp)
		if err != nil {
			return bt
		}
		fp = next
	}
	return bt
}
