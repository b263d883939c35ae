/*
Package client is a Go client for the monitor's REST API, used by the
sentinel CLI subcommands.

	c, err := client.NewClient("pihole-monitor:8080", apiKey)
	if err != nil {
		return err
	}
	defer c.Close()

	status, err := c.Status(ctx)

Non-2xx responses come back as *APIError carrying the server's detail.
*/
package client
