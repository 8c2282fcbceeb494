package enc

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Disassemble renders code as one line per decoded instruction, offset
// and raw bytes first, for use by the verbose trace hook and the CLI's
// -disassemble flag. A byte the decoder rejects is emitted as a `db`
// directive and skipped, so one bad instruction never hides the rest.
//
// Grounded on the teacher's own Disassemble (pvm/recompiler.go), which
// this repository's selector/allocator pair replaces but whose
// diagnostic output is worth keeping in the same form.
func Disassemble(code []byte) string {
	var sb strings.Builder
	offset := 0

	for offset < len(code) {
		inst, err := x86asm.Decode(code[offset:], 64)
		length := inst.Len
		if err != nil || inst.Op == 0 {
			sb.WriteString(fmt.Sprintf("0x%04x: db 0x%02x\n", offset, code[offset]))
			offset++
			continue
		}

		hexBytes := make([]string, length)
		for i := 0; i < length; i++ {
			hexBytes[i] = fmt.Sprintf("%02x", code[offset+i])
		}
		sb.WriteString(fmt.Sprintf(
			"0x%04x: %-24s %s\n",
			offset,
			strings.Join(hexBytes, " "),
			inst.String(),
		))

		offset += length
	}

	return sb.String()
}
