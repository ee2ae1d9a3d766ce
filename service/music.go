package service

// 配乐主题 -> 预置素材。找不到主题时回退 default。
const defaultMusicTheme = "upbeat"

var musicThemes = map[string]string{
	"upbeat":    "assets/music/upbeat.mp3",
	"calm":      "assets/music/calm.mp3",
	"luxury":    "assets/music/luxury.mp3",
	"energetic": "assets/music/energetic.mp3",
	"none":      "",
}

// MusicForTheme 静态查表；空串表示不加配乐
func MusicForTheme(theme string) string {
	if path, ok := musicThemes[theme]; ok {
		return path
	}
	return musicThemes[defaultMusicTheme]
}
