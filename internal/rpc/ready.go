package rpc

// readyResponse is the DISPATCH/READY event every connection receives once
// its handshake succeeds. The identity is synthetic and constant.
func readyResponse() Response {
	return Response{
		Cmd: CmdDispatch,
		Evt: evtReady,
		Data: map[string]any{
			"v": ProtocolVersion,
			"config": map[string]any{
				"cdn_host":     "cdn.discordapp.com",
				"api_endpoint": "//discord.com/api",
				"environment":  "production",
			},
			"user": map[string]any{
				"id":                     "1045800378228281345",
				"username":               "arrpc",
				"discriminator":          "0",
				"global_name":            "arRPC",
				"avatar":                 "cfefa4d9839fb4bdf030f91c2a13e95c",
				"avatar_decoration_data": nil,
				"bot":                    false,
				"flags":                  0,
				"premium_type":           0,
			},
		},
	}
}
