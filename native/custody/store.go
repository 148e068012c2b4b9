package custody

import coreerrors "brokerchain/core/errors"

var receiptPrefix = []byte("nativeReceipt/")

const recordVersion uint8 = 1

type storedReceipt struct {
	Version uint8
}

func receiptKey(id [32]byte) []byte {
	return append(append([]byte(nil), receiptPrefix...), id[:]...)
}

func (e *Engine) receiptSeen(id [32]byte) (bool, error) {
	var rec storedReceipt
	ok, err := e.state.KVGet(receiptKey(id), &rec)
	if err != nil {
		return false, coreerrors.Fatal(err)
	}
	if ok && rec.Version != recordVersion {
		return false, coreerrors.Fatalf("custody: malformed receipt marker %x", id)
	}
	return ok, nil
}

func (e *Engine) markReceipt(id [32]byte) error {
	if err := e.state.KVPut(receiptKey(id), &storedReceipt{Version: recordVersion}); err != nil {
		return coreerrors.Fatal(err)
	}
	return nil
}

// ReceiptCredited reports whether the native transfer id has been credited.
func (e *Engine) ReceiptCredited(id [32]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.receiptSeen(id)
}
