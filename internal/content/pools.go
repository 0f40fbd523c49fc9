package content

import (
	"strings"

	"github.com/hitoshi/postplan/internal/model"
)

// DefaultPools は初期投入用のハッシュタグプール。運用中に UpsertPool で編集する。
func DefaultPools() []model.HashtagPool {
	return []model.HashtagPool{
		{Name: model.PoolTrending, TagsCSV: csv(
			"indianmemes", "desihumor", "hindimemes", "reelkarofeelkaro", "funnyindia",
			"memesindia", "reelsindia", "memeindia", "dankmemesindia", "trendingreels",
		)},
		{Name: model.PoolEvergreen, TagsCSV: csv(
			"relatable", "desivibes", "desiculture", "memepage", "lolindia",
			"indiangags", "dailyfunny", "memesofinstagram", "chillvibes", "pettyhumor",
		)},
		{Name: model.PoolNiche, TagsCSV: csv(
			"engineerlife", "collegememes", "hostellifeindia", "delhimetro", "bangaloretraffic",
			"mumbaidreams", "startupmemes", "itlife", "officehumor", "chaiaddict",
		)},
		{Name: model.PoolRegional, TagsCSV: csv(
			"dilseindian", "delhivibes", "bangalorelife", "mumbaivibes", "cricketlover", "bollywoodmemes",
		)},
	}
}

func csv(tags ...string) string {
	return strings.Join(tags, ",")
}
