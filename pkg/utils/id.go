package utils

import (
	"crypto/rand"
	"fmt"
)

const (
	roomIDLength   = 7
	roomIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	// bytes at or above this would skew the alphabet
	roomIDCutoff = 256 - 256%len(roomIDAlphabet)
)

// GenerateRoomID returns a short random base36 token such as "k3x9a0q".
func GenerateRoomID() string {
	id := make([]byte, 0, roomIDLength)
	buf := make([]byte, roomIDLength*2)
	for len(id) < roomIDLength {
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("room id generation: %v", err))
		}
		for _, b := range buf {
			if int(b) >= roomIDCutoff {
				continue
			}
			id = append(id, roomIDAlphabet[int(b)%len(roomIDAlphabet)])
			if len(id) == roomIDLength {
				break
			}
		}
	}
	return string(id)
}
