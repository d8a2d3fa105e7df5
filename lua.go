package msgbox

const (
	luaAppendMessages = `
		-- Atomically append messages to one or more aggregate streams, but
		-- only if every stream continues at the expected version
		-- KEYS[i] = message list key of the i-th aggregate
		-- ARGV = for each key: first version, message count, messages...
		-- Returns: {1, 0, 0} on success, or {0, i, currentVersion}

		local pos = 1
		for i = 1, #KEYS do
			local first = tonumber(ARGV[pos])
			local count = tonumber(ARGV[pos + 1])
			local current = redis.call('LLEN', KEYS[i])
			if current + 1 ~= first then
				return {0, i, current}
			end
			pos = pos + 2 + count
		end

		local chunkSize = 128
		pos = 1
		for i = 1, #KEYS do
			local count = tonumber(ARGV[pos + 1])
			local startIdx = pos + 2
			local lastIdx = pos + 1 + count
			while startIdx <= lastIdx do
				local endIdx = math.min(startIdx + chunkSize - 1, lastIdx)
				local chunk = {}
				for j = startIdx, endIdx do
					table.insert(chunk, ARGV[j])
				end
				redis.call('RPUSH', KEYS[i], unpack(chunk))
				startIdx = endIdx + 1
			end
			pos = pos + 2 + count
		end

		return {1, 0, 0}
		`
)
