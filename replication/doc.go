package replication

/**
This package streams row updates between processes on different hosts.

- Publisher
	Publisher is an HTTP handler served at StreamPath. Clients upgrade to a websocket and send a
	msgpack SubscribeMessage whose streams are globs over table keys ("namespace/period/source/name").
	Every RowBatch pushed to the publisher is sent to the connections whose streams match its table.

- Subscriber
	Subscriber is the client side used by a table. It subscribes to exactly one table key and applies
	each received RowBatch with Upsert. Dropped connections are retried with exponential backoff by
	Retryer; a rejected subscription ends the subscriber.
*/
