package concurrency

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrTransactionExists = errors.New("transaction already began")
	ErrNoSuchTransaction = errors.New("no such transaction")
)

// TransactionManager tracks the running transaction of every client on a server.
// Every client runs 1 transaction at a time, so the client id also identifies its
// Transaction.
type TransactionManager struct {
	transactions map[uuid.UUID]*Transaction
	mtx          sync.RWMutex
}

func NewTransactionManager() *TransactionManager {
	return &TransactionManager{transactions: make(map[uuid.UUID]*Transaction)}
}

// Get a particular transaction of a client.
func (tm *TransactionManager) GetTransaction(clientId uuid.UUID) (tx *Transaction, found bool) {
	tm.mtx.RLock()
	defer tm.mtx.RUnlock()
	tx, found = tm.transactions[clientId]
	return tx, found
}

// Begin a transaction for the given client; error if already began.
func (tm *TransactionManager) Begin(clientId uuid.UUID) (*Transaction, error) {
	tm.mtx.Lock()
	defer tm.mtx.Unlock()
	if _, found := tm.transactions[clientId]; found {
		return nil, ErrTransactionExists
	}
	t := NewTransactionWithID(clientId)
	tm.transactions[clientId] = t
	return t, nil
}

// End forgets the client's transaction and returns it. Completing the transaction
// (flushing or discarding its pages and releasing its locks) is the caller's job.
func (tm *TransactionManager) End(clientId uuid.UUID) (*Transaction, error) {
	tm.mtx.Lock()
	defer tm.mtx.Unlock()
	t, found := tm.transactions[clientId]
	if !found {
		return nil, ErrNoSuchTransaction
	}
	delete(tm.transactions, clientId)
	return t, nil
}

// Running returns the transactions currently in progress.
func (tm *TransactionManager) Running() []*Transaction {
	tm.mtx.RLock()
	defer tm.mtx.RUnlock()
	txs := make([]*Transaction, 0, len(tm.transactions))
	for _, t := range tm.transactions {
		txs = append(txs, t)
	}
	return txs
}
