package imapwire

import (
	"strconv"
	"strings"

	"github.com/emersion/go-imapx"
)

// QResyncParams builds the QRESYNC parameter of a SELECT command (RFC 7162
// section 3.2.5): last-known UIDVALIDITY and MODSEQ, the known UID range,
// and a message sequence match sample.
//
// The sample pairs sequence numbers with their UIDs at exponentially
// growing distances from the mailbox end (9, 27, 81, ...), which bounds the
// size of the VANISHED list the server has to compute when the mailbox
// diverged long ago. uids must be the summary's full ascending UID list.
func QResyncParams(uidValidity uint32, modSeq imapx.ModSeq, uids []imapx.UID) string {
	var sb strings.Builder
	sb.WriteString("QRESYNC (")
	sb.WriteString(strconv.FormatUint(uint64(uidValidity), 10))
	sb.WriteByte(' ')
	sb.WriteString(strconv.FormatUint(uint64(modSeq), 10))

	if len(uids) > 0 {
		var known imapx.UIDSet
		known.AddRange(uids[0], uids[len(uids)-1])
		sb.WriteByte(' ')
		sb.WriteString(known.String())

		if seqs, sampleUIDs := sampleSeqMatch(uids); !seqs.Empty() {
			sb.WriteString(" (")
			sb.WriteString(seqs.String())
			sb.WriteByte(' ')
			sb.WriteString(sampleUIDs.String())
			sb.WriteByte(')')
		}
	}
	sb.WriteByte(')')
	return sb.String()
}

// sampleSeqMatch picks (sequence, UID) pairs walking backward from the
// mailbox end with step sizes 9, 27, 81, ...
func sampleSeqMatch(uids []imapx.UID) (seqs, sampleUIDs imapx.UIDSet) {
	pos := len(uids) // 1-based sequence number of the last message
	step := 9
	for pos >= 1 {
		seqs.AddNum(imapx.UID(pos))
		sampleUIDs.AddNum(uids[pos-1])
		pos -= step
		step *= 3
	}
	return seqs, sampleUIDs
}
