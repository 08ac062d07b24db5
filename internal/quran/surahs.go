package quran

// SurahCount is the number of surahs in the Quran.
const SurahCount = 114

// TotalAyahs is the number of ayahs across all surahs (Hafs numbering).
const TotalAyahs = 6236

// Revelation is the place a surah was revealed.
type Revelation string

// Revelation places.
const (
	Meccan  Revelation = "Meccan"
	Medinan Revelation = "Medinan"
)

// Surah describes one chapter of the catalogue.
type Surah struct {
	Number          int        `json:"number"`
	Name            string     `json:"name"`
	Transliteration string     `json:"transliteration"`
	AyahCount       int        `json:"ayah_count"`
	Revelation      Revelation `json:"revelation"`
}

// SurahByNumber returns the catalogue entry for surah n.
func SurahByNumber(n int) (Surah, bool) {
	if n < 1 || n > SurahCount {
		return Surah{}, false
	}
	return catalogue[n-1], true
}

// AllSurahs returns a copy of the catalogue in order.
func AllSurahs() []Surah {
	out := make([]Surah, SurahCount)
	copy(out, catalogue[:])
	return out
}

// catalogue holds the static surah metadata. Ayah counts follow the Hafs
// numbering, matching the alquran.cloud editions the text sources serve.
var catalogue = [SurahCount]Surah{
	{1, "الفاتحة", "Al-Faatiha", 7, Meccan},
	{2, "البقرة", "Al-Baqara", 286, Medinan},
	{3, "آل عمران", "Aal-i-Imraan", 200, Medinan},
	{4, "النساء", "An-Nisaa", 176, Medinan},
	{5, "المائدة", "Al-Maaida", 120, Medinan},
	{6, "الأنعام", "Al-An'aam", 165, Meccan},
	{7, "الأعراف", "Al-A'raaf", 206, Meccan},
	{8, "الأنفال", "Al-Anfaal", 75, Medinan},
	{9, "التوبة", "At-Tawba", 129, Medinan},
	{10, "يونس", "Yunus", 109, Meccan},
	{11, "هود", "Hud", 123, Meccan},
	{12, "يوسف", "Yusuf", 111, Meccan},
	{13, "الرعد", "Ar-Ra'd", 43, Medinan},
	{14, "ابراهيم", "Ibrahim", 52, Meccan},
	{15, "الحجر", "Al-Hijr", 99, Meccan},
	{16, "النحل", "An-Nahl", 128, Meccan},
	{17, "الإسراء", "Al-Israa", 111, Meccan},
	{18, "الكهف", "Al-Kahf", 110, Meccan},
	{19, "مريم", "Maryam", 98, Meccan},
	{20, "طه", "Taa-Haa", 135, Meccan},
	{21, "الأنبياء", "Al-Anbiyaa", 112, Meccan},
	{22, "الحج", "Al-Hajj", 78, Medinan},
	{23, "المؤمنون", "Al-Muminoon", 118, Meccan},
	{24, "النور", "An-Noor", 64, Medinan},
	{25, "الفرقان", "Al-Furqaan", 77, Meccan},
	{26, "الشعراء", "Ash-Shu'araa", 227, Meccan},
	{27, "النمل", "An-Naml", 93, Meccan},
	{28, "القصص", "Al-Qasas", 88, Meccan},
	{29, "العنكبوت", "Al-Ankaboot", 69, Meccan},
	{30, "الروم", "Ar-Room", 60, Meccan},
	{31, "لقمان", "Luqman", 34, Meccan},
	{32, "السجدة", "As-Sajda", 30, Meccan},
	{33, "الأحزاب", "Al-Ahzaab", 73, Medinan},
	{34, "سبإ", "Saba", 54, Meccan},
	{35, "فاطر", "Faatir", 45, Meccan},
	{36, "يس", "Yaseen", 83, Meccan},
	{37, "الصافات", "As-Saaffaat", 182, Meccan},
	{38, "ص", "Saad", 88, Meccan},
	{39, "الزمر", "Az-Zumar", 75, Meccan},
	{40, "غافر", "Ghafir", 85, Meccan},
	{41, "فصلت", "Fussilat", 54, Meccan},
	{42, "الشورى", "Ash-Shura", 53, Meccan},
	{43, "الزخرف", "Az-Zukhruf", 89, Meccan},
	{44, "الدخان", "Ad-Dukhaan", 59, Meccan},
	{45, "الجاثية", "Al-Jaathiya", 37, Meccan},
	{46, "الأحقاف", "Al-Ahqaf", 35, Meccan},
	{47, "محمد", "Muhammad", 38, Medinan},
	{48, "الفتح", "Al-Fath", 29, Medinan},
	{49, "الحجرات", "Al-Hujuraat", 18, Medinan},
	{50, "ق", "Qaaf", 45, Meccan},
	{51, "الذاريات", "Adh-Dhaariyat", 60, Meccan},
	{52, "الطور", "At-Tur", 49, Meccan},
	{53, "النجم", "An-Najm", 62, Meccan},
	{54, "القمر", "Al-Qamar", 55, Meccan},
	{55, "الرحمن", "Ar-Rahmaan", 78, Medinan},
	{56, "الواقعة", "Al-Waaqia", 96, Meccan},
	{57, "الحديد", "Al-Hadid", 29, Medinan},
	{58, "المجادلة", "Al-Mujaadila", 22, Medinan},
	{59, "الحشر", "Al-Hashr", 24, Medinan},
	{60, "الممتحنة", "Al-Mumtahana", 13, Medinan},
	{61, "الصف", "As-Saff", 14, Medinan},
	{62, "الجمعة", "Al-Jumu'a", 11, Medinan},
	{63, "المنافقون", "Al-Munaafiqoon", 11, Medinan},
	{64, "التغابن", "At-Taghaabun", 18, Medinan},
	{65, "الطلاق", "At-Talaaq", 12, Medinan},
	{66, "التحريم", "At-Tahrim", 12, Medinan},
	{67, "الملك", "Al-Mulk", 30, Meccan},
	{68, "القلم", "Al-Qalam", 52, Meccan},
	{69, "الحاقة", "Al-Haaqqa", 52, Meccan},
	{70, "المعارج", "Al-Ma'aarij", 44, Meccan},
	{71, "نوح", "Nooh", 28, Meccan},
	{72, "الجن", "Al-Jinn", 28, Meccan},
	{73, "المزمل", "Al-Muzzammil", 20, Meccan},
	{74, "المدثر", "Al-Muddaththir", 56, Meccan},
	{75, "القيامة", "Al-Qiyaama", 40, Meccan},
	{76, "الانسان", "Al-Insaan", 31, Medinan},
	{77, "المرسلات", "Al-Mursalaat", 50, Meccan},
	{78, "النبإ", "An-Naba", 40, Meccan},
	{79, "النازعات", "An-Naazi'aat", 46, Meccan},
	{80, "عبس", "Abasa", 42, Meccan},
	{81, "التكوير", "At-Takwir", 29, Meccan},
	{82, "الإنفطار", "Al-Infitaar", 19, Meccan},
	{83, "المطففين", "Al-Mutaffifin", 36, Meccan},
	{84, "الإنشقاق", "Al-Inshiqaaq", 25, Meccan},
	{85, "البروج", "Al-Burooj", 22, Meccan},
	{86, "الطارق", "At-Taariq", 17, Meccan},
	{87, "الأعلى", "Al-A'laa", 19, Meccan},
	{88, "الغاشية", "Al-Ghaashiya", 26, Meccan},
	{89, "الفجر", "Al-Fajr", 30, Meccan},
	{90, "البلد", "Al-Balad", 20, Meccan},
	{91, "الشمس", "Ash-Shams", 15, Meccan},
	{92, "الليل", "Al-Lail", 21, Meccan},
	{93, "الضحى", "Ad-Dhuhaa", 11, Meccan},
	{94, "الشرح", "Ash-Sharh", 8, Meccan},
	{95, "التين", "At-Tin", 8, Meccan},
	{96, "العلق", "Al-Alaq", 19, Meccan},
	{97, "القدر", "Al-Qadr", 5, Meccan},
	{98, "البينة", "Al-Bayyina", 8, Medinan},
	{99, "الزلزلة", "Az-Zalzala", 8, Medinan},
	{100, "العاديات", "Al-Aadiyaat", 11, Meccan},
	{101, "القارعة", "Al-Qaari'a", 11, Meccan},
	{102, "التكاثر", "At-Takaathur", 8, Meccan},
	{103, "العصر", "Al-Asr", 3, Meccan},
	{104, "الهمزة", "Al-Humaza", 9, Meccan},
	{105, "الفيل", "Al-Fil", 5, Meccan},
	{106, "قريش", "Quraish", 4, Meccan},
	{107, "الماعون", "Al-Maa'un", 7, Meccan},
	{108, "الكوثر", "Al-Kawthar", 3, Meccan},
	{109, "الكافرون", "Al-Kaafiroon", 6, Meccan},
	{110, "النصر", "An-Nasr", 3, Medinan},
	{111, "المسد", "Al-Masad", 5, Meccan},
	{112, "الإخلاص", "Al-Ikhlaas", 4, Meccan},
	{113, "الفلق", "Al-Falaq", 5, Meccan},
	{114, "الناس", "An-Naas", 6, Meccan},
}
