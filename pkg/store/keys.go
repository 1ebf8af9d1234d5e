package store

import "fmt"

// Key layout:
//
//	msg:id:<message_id>                          canonical message JSON
//	conv:<key>:msg:<sent_at padded>-<seq padded> message_id (ordering index)
//	conv:<key>:meta                              conversation meta JSON
//	meta:seq                                     last allocated insertion seq
//
// The index key embeds the message's sent_at (seconds, zero padded) followed
// by the store insertion sequence, so a prefix scan yields sent_at-ascending
// order with later-inserted messages winning ties.

func msgDocKey(id string) []byte {
	return []byte("msg:id:" + id)
}

// ConvMsgKey builds the ordering-index key for a message within its
// conversation.
func ConvMsgKey(convKey string, sentAt int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("conv:%s:msg:%020d-%012d", convKey, sentAt, seq))
}

func convMsgPrefix(convKey string) []byte {
	return []byte("conv:" + convKey + ":msg:")
}

func convMetaKey(convKey string) []byte {
	return []byte("conv:" + convKey + ":meta")
}

var (
	msgDocPrefix = []byte("msg:id:")
	convPrefix   = []byte("conv:")
	seqKey       = []byte("meta:seq")
)
