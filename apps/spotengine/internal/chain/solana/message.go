package solana

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
)

// lookupTableHeaderSize is the metadata prefix of an address lookup table account.
const lookupTableHeaderSize = 56

type AccountMeta struct {
	PublicKey  PublicKey
	IsSigner   bool
	IsWritable bool
}

type Instruction struct {
	ProgramID PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

// LookupTable is a loaded address lookup table.
type LookupTable struct {
	Key       PublicKey
	Addresses []PublicKey
}

// ParseLookupTable decodes the raw account data of a lookup table.
func ParseLookupTable(key PublicKey, data []byte) (LookupTable, error) {
	if len(data) < lookupTableHeaderSize || (len(data)-lookupTableHeaderSize)%32 != 0 {
		return LookupTable{}, fmt.Errorf("invalid lookup table %s: %d bytes", key, len(data))
	}
	body := data[lookupTableHeaderSize:]
	t := LookupTable{Key: key, Addresses: make([]PublicKey, len(body)/32)}
	for i := range t.Addresses {
		copy(t.Addresses[i][:], body[i*32:(i+1)*32])
	}
	return t, nil
}

type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

type compiledInstruction struct {
	programIndex uint8
	accounts     []uint8
	data         []byte
}

type tableLookup struct {
	key      PublicKey
	writable []uint8
	readonly []uint8
}

// Message is a compiled v0 transaction message.
type Message struct {
	Header       MessageHeader
	StaticKeys   []PublicKey
	Blockhash    PublicKey
	instructions []compiledInstruction
	lookups      []tableLookup
}

type keyFlags struct {
	signer   bool
	writable bool
	invoked  bool
}

type loadedKey struct {
	table int
	index uint8
}

// CompileMessage lays out the accounts of ixs with payer first. Accounts that are neither
// signers nor invoked programs are loaded from tables when one of them holds the address.
func CompileMessage(payer PublicKey, ixs []Instruction, blockhash PublicKey, tables []LookupTable) (*Message, error) {
	var order []PublicKey
	flags := map[PublicKey]*keyFlags{}
	add := func(k PublicKey) *keyFlags {
		f, ok := flags[k]
		if !ok {
			f = &keyFlags{}
			flags[k] = f
			order = append(order, k)
		}
		return f
	}

	p := add(payer)
	p.signer, p.writable = true, true
	for _, ix := range ixs {
		add(ix.ProgramID).invoked = true
		for _, a := range ix.Accounts {
			f := add(a.PublicKey)
			f.signer = f.signer || a.IsSigner
			f.writable = f.writable || a.IsWritable
		}
	}

	loaded := map[PublicKey]loadedKey{}
	var static []PublicKey
	for _, k := range order {
		f := flags[k]
		if !f.signer && !f.invoked {
			if lk, ok := findInTables(tables, k); ok {
				loaded[k] = lk
				continue
			}
		}
		static = append(static, k)
	}

	m := &Message{Blockhash: blockhash}
	groups := [4][]PublicKey{}
	for _, k := range static {
		f := flags[k]
		switch {
		case f.signer && f.writable:
			groups[0] = append(groups[0], k)
		case f.signer:
			groups[1] = append(groups[1], k)
		case f.writable:
			groups[2] = append(groups[2], k)
		default:
			groups[3] = append(groups[3], k)
		}
	}
	for _, g := range groups {
		m.StaticKeys = append(m.StaticKeys, g...)
	}
	if len(groups[0])+len(groups[1]) > 255 || len(groups[3]) > 255 {
		return nil, errors.New("too many static accounts")
	}
	m.Header = MessageHeader{
		NumRequiredSignatures:       uint8(len(groups[0]) + len(groups[1])),
		NumReadonlySignedAccounts:   uint8(len(groups[1])),
		NumReadonlyUnsignedAccounts: uint8(len(groups[3])),
	}

	index := make(map[PublicKey]int, len(order))
	for i, k := range m.StaticKeys {
		index[k] = i
	}

	lookups := make([]tableLookup, len(tables))
	var writableLoaded, readonlyLoaded []PublicKey
	for _, k := range order {
		lk, ok := loaded[k]
		if !ok {
			continue
		}
		lookups[lk.table].key = tables[lk.table].Key
		if flags[k].writable {
			lookups[lk.table].writable = append(lookups[lk.table].writable, lk.index)
		} else {
			lookups[lk.table].readonly = append(lookups[lk.table].readonly, lk.index)
		}
	}
	for t, l := range lookups {
		for _, i := range l.writable {
			writableLoaded = append(writableLoaded, tables[t].Addresses[i])
		}
	}
	for t, l := range lookups {
		for _, i := range l.readonly {
			readonlyLoaded = append(readonlyLoaded, tables[t].Addresses[i])
		}
	}
	next := len(m.StaticKeys)
	for _, k := range append(writableLoaded, readonlyLoaded...) {
		if _, seen := index[k]; !seen {
			index[k] = next
		}
		next++
	}
	if next > 256 {
		return nil, fmt.Errorf("transaction references %d accounts", next)
	}
	for _, l := range lookups {
		if len(l.writable)+len(l.readonly) > 0 {
			m.lookups = append(m.lookups, l)
		}
	}

	for _, ix := range ixs {
		ci := compiledInstruction{programIndex: uint8(index[ix.ProgramID]), data: ix.Data}
		for _, a := range ix.Accounts {
			ci.accounts = append(ci.accounts, uint8(index[a.PublicKey]))
		}
		m.instructions = append(m.instructions, ci)
	}
	return m, nil
}

func findInTables(tables []LookupTable, k PublicKey) (loadedKey, bool) {
	for t, table := range tables {
		for i, addr := range table.Addresses {
			if i > 255 {
				break
			}
			if addr == k {
				return loadedKey{table: t, index: uint8(i)}, true
			}
		}
	}
	return loadedKey{}, false
}

// Serialize encodes the message in the versioned wire format.
func (m *Message) Serialize() []byte {
	buf := []byte{0x80, m.Header.NumRequiredSignatures, m.Header.NumReadonlySignedAccounts, m.Header.NumReadonlyUnsignedAccounts}
	buf = appendCompactU16(buf, len(m.StaticKeys))
	for _, k := range m.StaticKeys {
		buf = append(buf, k[:]...)
	}
	buf = append(buf, m.Blockhash[:]...)

	buf = appendCompactU16(buf, len(m.instructions))
	for _, ix := range m.instructions {
		buf = append(buf, ix.programIndex)
		buf = appendCompactU16(buf, len(ix.accounts))
		buf = append(buf, ix.accounts...)
		buf = appendCompactU16(buf, len(ix.data))
		buf = append(buf, ix.data...)
	}

	buf = appendCompactU16(buf, len(m.lookups))
	for _, l := range m.lookups {
		buf = append(buf, l.key[:]...)
		buf = appendCompactU16(buf, len(l.writable))
		buf = append(buf, l.writable...)
		buf = appendCompactU16(buf, len(l.readonly))
		buf = append(buf, l.readonly...)
	}
	return buf
}

// SignTransaction signs the message with key, which must be its only required signer,
// and returns the wire transaction and its signature.
func SignTransaction(m *Message, key ed25519.PrivateKey) ([]byte, []byte, error) {
	if m.Header.NumRequiredSignatures != 1 {
		return nil, nil, fmt.Errorf("message requires %d signatures", m.Header.NumRequiredSignatures)
	}
	var pub PublicKey
	copy(pub[:], key.Public().(ed25519.PublicKey))
	if m.StaticKeys[0] != pub {
		return nil, nil, errors.New("signing key is not the fee payer")
	}

	msg := m.Serialize()
	sig := ed25519.Sign(key, msg)
	tx := appendCompactU16(nil, 1)
	tx = append(tx, sig...)
	return append(tx, msg...), sig, nil
}

func appendCompactU16(buf []byte, n int) []byte {
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

func SystemTransfer(from, to PublicKey, lamports uint64) Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data, 2)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	return Instruction{
		ProgramID: SystemProgram,
		Accounts: []AccountMeta{
			{PublicKey: from, IsSigner: true, IsWritable: true},
			{PublicKey: to, IsWritable: true},
		},
		Data: data,
	}
}

// TransferChecked moves amount of mint between token accounts; it works for both token programs.
func TransferChecked(tokenProgram, source, mint, dest, owner PublicKey, amount uint64, decimals uint8) Instruction {
	data := make([]byte, 10)
	data[0] = 12
	binary.LittleEndian.PutUint64(data[1:], amount)
	data[9] = decimals
	return Instruction{
		ProgramID: tokenProgram,
		Accounts: []AccountMeta{
			{PublicKey: source, IsWritable: true},
			{PublicKey: mint},
			{PublicKey: dest, IsWritable: true},
			{PublicKey: owner, IsSigner: true},
		},
		Data: data,
	}
}

// CreateAssociatedTokenAccountIdempotent creates ata unless it already exists.
func CreateAssociatedTokenAccountIdempotent(payer, ata, owner, mint, tokenProgram PublicKey) Instruction {
	return Instruction{
		ProgramID: AssociatedTokenProgram,
		Accounts: []AccountMeta{
			{PublicKey: payer, IsSigner: true, IsWritable: true},
			{PublicKey: ata, IsWritable: true},
			{PublicKey: owner},
			{PublicKey: mint},
			{PublicKey: SystemProgram},
			{PublicKey: tokenProgram},
		},
		Data: []byte{1},
	}
}

func SetComputeUnitLimit(units uint32) Instruction {
	data := make([]byte, 5)
	data[0] = 2
	binary.LittleEndian.PutUint32(data[1:], units)
	return Instruction{ProgramID: ComputeBudgetProgram, Data: data}
}

func SetComputeUnitPrice(microLamports uint64) Instruction {
	data := make([]byte, 9)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return Instruction{ProgramID: ComputeBudgetProgram, Data: data}
}
