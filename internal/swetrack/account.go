package swetrack

import (
	"context"
	"encoding/json"
)

// AccountInfo fetches the account identity. Used by setup validation.
func (c *Client) AccountInfo(ctx context.Context) (Account, error) {
	resp, err := c.Execute(ctx, EndpointAccount, nil)
	if err != nil {
		return nil, err
	}

	var acct Account
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return Account{}, nil
	}
	if err := json.Unmarshal(resp.Data, &acct); err != nil {
		return nil, &Error{Kind: KindProtocol, Endpoint: EndpointAccount, Status: resp.Status, Message: "decoding account", Err: err}
	}
	return acct, nil
}
