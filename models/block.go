package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"
)

// Block is one link of the event chain. Data carries a JSON-encoded Event.
// Difficulty is the number of leading zero bytes required of the hash; the
// simulator runs with difficulty 0 so appends are cheap, but mining is kept
// for deployments that want a tamper-evident log.
type Block struct {
	Index      uint64 `json:"index"`
	Timestamp  int64  `json:"timestamp"`
	Data       []byte `json:"data"`
	PrevHash   []byte `json:"prev_hash"`
	Hash       []byte `json:"hash"`
	Nonce      uint64 `json:"nonce"`
	Difficulty uint8  `json:"difficulty"`
}

// NewEventBlock seals an event into a mined block at the given height.
func NewEventBlock(index uint64, event Event, prevHash []byte, difficulty uint8) (*Block, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	block := &Block{
		Index:      index,
		Timestamp:  event.Timestamp,
		Data:       data,
		PrevHash:   prevHash,
		Difficulty: difficulty,
	}

	block.Mine()
	return block, nil
}

// Event decodes the block payload back into the logged event.
func (b *Block) Event() (Event, error) {
	var event Event
	if err := json.Unmarshal(b.Data, &event); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event from block %d: %w", b.Index, err)
	}
	return event, nil
}

func (b *Block) Mine() {
	target := make([]byte, b.Difficulty)
	var nonce uint64
	for {
		b.Nonce = nonce
		b.Hash = b.calculateHash()

		if bytes.HasPrefix(b.Hash, target) {
			return
		}

		nonce++
		if nonce%1000 == 0 {
			time.Sleep(time.Microsecond) // Prevent CPU hogging
		}
	}
}

func (b *Block) calculateHash() []byte {
	buffer := new(bytes.Buffer)
	binary.Write(buffer, binary.BigEndian, b.Index)
	binary.Write(buffer, binary.BigEndian, b.Timestamp)
	buffer.Write(b.Data)
	buffer.Write(b.PrevHash)
	binary.Write(buffer, binary.BigEndian, b.Nonce)

	hash := sha256.Sum256(buffer.Bytes())
	return hash[:]
}

func (b *Block) Validate() bool {
	calculatedHash := b.calculateHash()
	if !bytes.Equal(calculatedHash, b.Hash) {
		return false
	}

	target := make([]byte, b.Difficulty)
	return bytes.HasPrefix(calculatedHash, target)
}

// ValidateChain checks hashes, links, indices and timestamp ordering of the
// whole event chain. An empty chain is valid.
func ValidateChain(blocks []*Block) bool {
	if len(blocks) == 0 {
		return true
	}

	if !blocks[0].Validate() {
		return false
	}

	for i := 1; i < len(blocks); i++ {
		currentBlock := blocks[i]
		previousBlock := blocks[i-1]

		if !currentBlock.Validate() {
			return false
		}

		if !bytes.Equal(currentBlock.PrevHash, previousBlock.Hash) {
			return false
		}

		if currentBlock.Index != previousBlock.Index+1 {
			return false
		}

		if currentBlock.Timestamp <= previousBlock.Timestamp {
			return false
		}
	}

	return true
}
