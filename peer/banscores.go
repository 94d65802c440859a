package peer

// Ban scores for misbehaving peers, applied through Config.AddBanScore.
const (
	BanScoreUnrequestedBlock = 100
	BanScoreInvalidBlock     = 100
	BanScoreInvalidInvBlock  = 100

	BanScoreRequestNonExistingBlock = 10

	BanScoreUnrequestedTx = 20
	BanScoreInvalidTx     = 100

	BanScoreMalformedMessage = 10

	BanScoreNonVersionFirstMessage = 1
	BanScoreDuplicateVersion       = 1
	BanScoreDuplicateVerack        = 1

	BanScoreEmptyBlockLocator = 100

	BanScoreStallTimeout = 1

	BanScoreUnrequestedMessage = 100
)
