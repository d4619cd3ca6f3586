package remote

import (
	"sync"

	"github.com/pkg/errors"
)

type accountEndpoint struct {
	serverURL string
	authToken string
}

// DavClientFactory builds a DavClient per account. Credentials are
// re-read on every ClientForAccount call so a token refresh done by the
// auth layer is picked up by the next transfer.
type DavClientFactory struct {
	mu       sync.Mutex
	accounts map[string]accountEndpoint
}

func NewDavClientFactory() *DavClientFactory {
	return &DavClientFactory{accounts: make(map[string]accountEndpoint)}
}

func (f *DavClientFactory) RegisterAccount(accountName, serverURL, authToken string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[accountName] = accountEndpoint{serverURL: serverURL, authToken: authToken}
}

func (f *DavClientFactory) RemoveAccount(accountName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.accounts, accountName)
}

func (f *DavClientFactory) ClientForAccount(accountName string) (Client, error) {
	f.mu.Lock()
	endpoint, ok := f.accounts[accountName]
	f.mu.Unlock()

	if !ok {
		return nil, errors.Errorf("no such account: %s", accountName)
	}

	return NewDavClient(endpoint.serverURL, endpoint.authToken), nil
}
